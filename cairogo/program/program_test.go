package program

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

func TestLoad(t *testing.T) {
	p, err := Load("testdata/output.json")
	require.NoError(t, err)
	require.Equal(t, []builtins.Name{builtins.Output}, p.Builtins)
	require.Len(t, p.Data, 6)
	require.Equal(t, felt.FromUint64(0x2a), p.Data[1])
	require.Equal(t, "0.13.1", p.CompilerVersion)

	main, err := p.Main()
	require.NoError(t, err)
	require.Equal(t, uint64(0), main)

	entry, err := p.Label("__main__.entry")
	require.NoError(t, err, "aliases are followed")
	require.Equal(t, main, entry)

	_, err = p.Label("__main__.ANSWER")
	require.ErrorIs(t, err, ErrNotALabel)
	_, err = p.Start()
	require.ErrorIs(t, err, ErrUnknownIdentifier)

	answer, err := p.Constant("__main__.ANSWER")
	require.NoError(t, err)
	require.Equal(t, felt.FromUint64(42), answer)
	minusOne, err := p.Constant("__main__.BIG")
	require.NoError(t, err)
	require.Equal(t, felt.FromInt64(-1), minusOne)

	require.Len(t, p.Hints[0], 1)
	require.Equal(t, "vm_enter_scope()", p.Hints[0][0].Code)
	require.Equal(t, 0, p.Hints[0][0].FlowTrackingData.ReferenceIDs["__main__.main.output_ptr"])
	require.Equal(t, "[cast(fp + (-3), felt**)]", p.References[0].Value)

	loc, ok := p.InstructionLocation(0)
	require.True(t, ok)
	require.Equal(t, "output.cairo:4:5", loc.Inst.String())
	_, ok = p.InstructionLocation(3)
	require.False(t, ok)

	require.Len(t, p.MemoryData(), 6)
}

func TestParseErrors(t *testing.T) {
	data, err := os.ReadFile("testdata/output.json")
	require.NoError(t, err)
	src := string(data)

	t.Run("prime", func(t *testing.T) {
		bad := strings.Replace(src, "0x800000000000011000000000000000000000000000000000000000000000001", "0x7", 1)
		_, err := Parse([]byte(bad))
		require.ErrorIs(t, err, ErrUnsupportedPrime)
	})
	t.Run("builtin order", func(t *testing.T) {
		bad := strings.Replace(src, `"output"
    ]`, `"range_check", "output"
    ]`, 1)
		_, err := Parse([]byte(bad))
		require.ErrorIs(t, err, builtins.ErrBuiltinOrder)
	})
	t.Run("unknown builtin", func(t *testing.T) {
		bad := strings.Replace(src, `"output"
    ]`, `"sha256"
    ]`, 1)
		_, err := Parse([]byte(bad))
		require.ErrorIs(t, err, builtins.ErrUnknownBuiltin)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}
