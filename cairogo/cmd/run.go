package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/cairovm/cairogo/program"
	"github.com/ethereum-optimism/cairovm/cairogo/runner"
	"github.com/ethereum-optimism/cairovm/cairogo/vm"
)

var OutFilePerm = os.FileMode(0o644)

// writeFile streams fn into a buffered file at path.
func writeFile(path string, fn func(w io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, OutFilePerm)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := fn(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func Run(ctx *cli.Context) error {
	if ctx.Bool(RunPProfCPUFlag.Name) {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath("."), profile.CPUProfile).Stop()
	}
	lvl, err := parseLevel(ctx.String(RunLogLevelFlag.Name))
	if err != nil {
		return err
	}
	l := Logger(os.Stderr, lvl)

	prog, err := program.Load(ctx.Path(RunProgramFlag.Name))
	if err != nil {
		return err
	}
	tracePath := ctx.Path(RunTraceFileFlag.Name)
	memoryPath := ctx.Path(RunMemoryFileFlag.Name)
	cfg := runner.Config{
		Layout:               ctx.String(RunLayoutFlag.Name),
		ProofMode:            ctx.Bool(RunProofModeFlag.Name),
		AllowMissingBuiltins: ctx.Bool(RunAllowMissingBuiltinsFlag.Name),
		Trace:                tracePath != "",
		Logger:               l,
	}
	if ctx.IsSet(RunSecureRunFlag.Name) {
		secure := ctx.Bool(RunSecureRunFlag.Name)
		cfg.SecureRun = &secure
	}
	r, err := runner.New(prog, cfg)
	if err != nil {
		return err
	}
	var resources *vm.RunResources
	if ctx.IsSet(RunStepsFlag.Name) {
		resources = vm.NewRunResources(ctx.Uint64(RunStepsFlag.Name))
	}

	start := time.Now()
	if err := r.Run(ctx.Context, resources); err != nil {
		return fmt.Errorf("failed to run program: %w", err)
	}
	steps := r.VM().CurrentStep()
	delta := time.Since(start)
	l.Info("Finished run", "steps", steps, "duration", delta, "ips", float64(steps)/delta.Seconds())

	out := ctx.App.Writer
	if ctx.Bool(RunPrintOutputFlag.Name) {
		values, err := r.Output()
		if err != nil {
			return fmt.Errorf("failed to read output: %w", err)
		}
		fmt.Fprintln(out, "Program output:")
		for _, v := range values {
			fmt.Fprintf(out, "  %s\n", v.Decimal())
		}
	}
	if ctx.Bool(RunPrintInfoFlag.Name) {
		res, err := r.ExecutionResources()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Execution resources:")
		fmt.Fprintf(out, "  n_steps: %d\n", res.NSteps)
		fmt.Fprintf(out, "  n_memory_holes: %d\n", res.NMemoryHoles)
		names := make([]string, 0, len(res.BuiltinInstanceCounter))
		for name := range res.BuiltinInstanceCounter {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %s: %d\n", name, res.BuiltinInstanceCounter[name])
		}
	}

	if path := ctx.Path(RunCairoPieOutputFlag.Name); path != "" {
		p, err := r.CairoPie()
		if err != nil {
			return fmt.Errorf("failed to build cairo pie: %w", err)
		}
		if err := p.WriteFile(path); err != nil {
			return fmt.Errorf("failed to write cairo pie: %w", err)
		}
		l.Info("Wrote cairo pie", "path", path)
	}

	if tracePath == "" && memoryPath == "" {
		return nil
	}
	if cfg.ProofMode {
		if err := r.FinalizeSegments(); err != nil {
			return err
		}
	}
	if err := r.Relocate(); err != nil {
		return err
	}
	if tracePath != "" {
		if err := writeFile(tracePath, r.WriteBinaryTrace); err != nil {
			return fmt.Errorf("failed to write trace: %w", err)
		}
	}
	if memoryPath != "" {
		if err := writeFile(memoryPath, r.WriteBinaryMemory); err != nil {
			return fmt.Errorf("failed to write memory: %w", err)
		}
	}
	return nil
}

var RunCommand = &cli.Command{
	Name:        "run",
	Usage:       "Run a compiled Cairo program",
	Description: "Run a compiled Cairo program and optionally write its relocated trace and memory, or its cairo pie.",
	Action:      Run,
	Flags: []cli.Flag{
		RunProgramFlag,
		RunLayoutFlag,
		RunProofModeFlag,
		RunSecureRunFlag,
		RunAllowMissingBuiltinsFlag,
		RunStepsFlag,
		RunPrintOutputFlag,
		RunPrintInfoFlag,
		RunTraceFileFlag,
		RunMemoryFileFlag,
		RunCairoPieOutputFlag,
		RunLogLevelFlag,
		RunPProfCPUFlag,
	},
}
