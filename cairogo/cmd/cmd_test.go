package cmd

import (
	"bytes"
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/cairovm/cairogo/layout"
	"github.com/ethereum-optimism/cairovm/cairogo/vm"
)

//go:embed test_data/output.json
var testProgram []byte

func runApp(t *testing.T, args ...string) (string, error) {
	app := cli.NewApp()
	app.Name = "cairovm"
	app.Commands = []*cli.Command{RunCommand, DecodeCommand, PieCheckCommand}
	var buf bytes.Buffer
	app.Writer = &buf
	err := app.RunContext(context.Background(), append([]string{"cairovm"}, args...))
	return buf.String(), err
}

func writeProgram(t *testing.T) (string, string) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.json")
	require.NoError(t, os.WriteFile(path, testProgram, 0644))
	return dir, path
}

func TestRun(t *testing.T) {
	t.Run("Artifacts", func(t *testing.T) {
		dir, path := writeProgram(t)
		tracePath := filepath.Join(dir, "trace.bin")
		memoryPath := filepath.Join(dir, "memory.bin")
		piePath := filepath.Join(dir, "pie.zip")
		out, err := runApp(t, "run",
			"--program", path,
			"--layout", "small",
			"--print_output",
			"--print_info",
			"--trace_file", tracePath,
			"--memory_file", memoryPath,
			"--cairo_pie_output", piePath,
			"--log.level", "error",
		)
		require.NoError(t, err)
		require.Contains(t, out, "Program output:\n  42\n")
		require.Contains(t, out, "n_steps: 4\n")
		require.Contains(t, out, "output_builtin: 1\n")

		trace, err := os.ReadFile(tracePath)
		require.NoError(t, err)
		require.Len(t, trace, 4*24)
		mem, err := os.ReadFile(memoryPath)
		require.NoError(t, err)
		require.Len(t, mem, 12*40)

		out, err = runApp(t, "pie-check", "--input", piePath)
		require.NoError(t, err)
		require.Equal(t, "cairo pie is valid: 4 steps\n", out)
	})

	t.Run("StepLimit", func(t *testing.T) {
		_, path := writeProgram(t)
		_, err := runApp(t, "run", "--program", path, "--layout", "small", "--steps", "2", "--log.level", "error")
		require.ErrorIs(t, err, vm.ErrOutOfResources)
	})

	t.Run("UnknownLayout", func(t *testing.T) {
		_, path := writeProgram(t)
		_, err := runApp(t, "run", "--program", path, "--layout", "tiny", "--log.level", "error")
		require.ErrorIs(t, err, layout.ErrUnknownLayout)
	})

	t.Run("InvalidLogLevel", func(t *testing.T) {
		_, path := writeProgram(t)
		_, err := runApp(t, "run", "--program", path, "--log.level", "loud")
		require.ErrorContains(t, err, "invalid log level")
	})
}

func TestDecode(t *testing.T) {
	out, err := runApp(t, "decode", "0x480680017fff8000", "42")
	require.NoError(t, err)
	require.Contains(t, out, "assert_eq")
	require.Contains(t, out, "imm=0x2a")
	require.Contains(t, out, "flags=0x4806 off0=0x8000 off1=0x7fff off2=0x8001 size=2\n")

	out, err = runApp(t, "decode", "208b7fff7fff7ffe")
	require.NoError(t, err)
	require.Contains(t, out, "ret")

	_, err = runApp(t, "decode", "0x480680017fff8000")
	require.Error(t, err)
	_, err = runApp(t, "decode")
	require.Error(t, err)
}

func TestPieCheckMissingFile(t *testing.T) {
	_, err := runApp(t, "pie-check", "--input", filepath.Join(t.TempDir(), "missing.zip"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
