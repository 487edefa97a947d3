package cmd

import (
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/cairovm/cairogo/layout"
)

var (
	RunProgramFlag = &cli.PathFlag{
		Name:      "program",
		Usage:     "path of the compiled program JSON",
		TakesFile: true,
		Required:  true,
	}
	RunLayoutFlag = &cli.StringFlag{
		Name:  "layout",
		Usage: "layout to run with, one of " + strings.Join(layout.Names(), ", "),
		Value: "plain",
	}
	RunProofModeFlag = &cli.BoolFlag{
		Name:  "proof_mode",
		Usage: "run from __start__ to __end__ and pad the trace for the prover",
	}
	RunSecureRunFlag = &cli.BoolFlag{
		Name:  "secure_run",
		Usage: "verify the run after it ends, defaults to true outside of proof mode",
	}
	RunAllowMissingBuiltinsFlag = &cli.BoolFlag{
		Name:  "allow_missing_builtins",
		Usage: "run programs that declare builtins the layout does not have",
	}
	RunStepsFlag = &cli.Uint64Flag{
		Name:  "steps",
		Usage: "maximum number of steps to run, unlimited if not set",
	}
	RunPrintOutputFlag = &cli.BoolFlag{
		Name:  "print_output",
		Usage: "print the values written to the output builtin",
	}
	RunPrintInfoFlag = &cli.BoolFlag{
		Name:  "print_info",
		Usage: "print the execution resources of the run",
	}
	RunTraceFileFlag = &cli.PathFlag{
		Name:      "trace_file",
		Usage:     "write the relocated binary trace to this file",
		TakesFile: true,
	}
	RunMemoryFileFlag = &cli.PathFlag{
		Name:      "memory_file",
		Usage:     "write the relocated binary memory to this file",
		TakesFile: true,
	}
	RunCairoPieOutputFlag = &cli.PathFlag{
		Name:      "cairo_pie_output",
		Usage:     "write the run as a cairo pie zip archive",
		TakesFile: true,
	}
	RunLogLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "log level: debug, info, warn or error",
		Value: "info",
	}
	RunPProfCPUFlag = &cli.BoolFlag{
		Name:  "pprof.cpu",
		Usage: "enable pprof cpu profiling",
	}

	PieCheckInputFlag = &cli.PathFlag{
		Name:      "input",
		Usage:     "path of the cairo pie zip archive",
		TakesFile: true,
		Required:  true,
	}
)
