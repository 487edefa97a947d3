// Package runner sets up, runs and finalizes Cairo programs.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
	"github.com/ethereum-optimism/cairovm/cairogo/hints"
	"github.com/ethereum-optimism/cairovm/cairogo/layout"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
	"github.com/ethereum-optimism/cairovm/cairogo/program"
	"github.com/ethereum-optimism/cairovm/cairogo/vm"
)

var (
	ErrRunNotEnded       = errors.New("run has not ended")
	ErrRunAlreadyEnded   = errors.New("run already ended")
	ErrMissingBuiltin    = errors.New("builtin is not present in layout")
	ErrMissingMain       = errors.New("program has no main function")
	ErrNotInitialized    = errors.New("runner is not initialized")
	ErrSecurity          = errors.New("security check failed")
	ErrInsufficientUnits = errors.New("insufficient allocated units")
)

type Config struct {
	Layout string
	// ProofMode runs from __start__ to __end__ and pads the trace for the
	// prover.
	ProofMode bool
	// SecureRun enables VerifySecureRunner after the run. It defaults to
	// true outside of proof mode.
	SecureRun            *bool
	AllowMissingBuiltins bool
	Trace                bool
	// DisableTracePadding skips padding in proof mode.
	DisableTracePadding bool
	// HintProcessor defaults to the hints package processor.
	HintProcessor vm.HintProcessor
	Logger        log.Logger
}

func (c *Config) secureRun() bool {
	if c.SecureRun != nil {
		return *c.SecureRun
	}
	return !c.ProofMode
}

type CairoRunner struct {
	prog   *program.Program
	layout *layout.Layout
	cfg    Config
	log    log.Logger

	segments *memory.SegmentManager
	runners  []builtins.Runner
	hp       vm.HintProcessor
	vm       *vm.VirtualMachine

	programBase   memory.Relocatable
	executionBase memory.Relocatable
	initialPC     memory.Relocatable
	initialAP     memory.Relocatable
	initialFP     memory.Relocatable
	finalPC       memory.Relocatable
	// return frame of an entrypoint call, unset in proof mode
	returnFP memory.MaybeRelocatable

	executionPublicMemory []uint64

	runEnded          bool
	segmentsFinalized bool

	relocationTable []uint64
	relocatedMemory memory.RelocatedMemory
	relocatedTrace  []vm.RelocatedTraceEntry
}

// New creates the builtin runners the layout provides for prog. In proof
// mode every builtin of the layout gets a segment, declared or not.
func New(prog *program.Program, cfg Config) (*CairoRunner, error) {
	l, err := layout.Get(cfg.Layout)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Root()
	}
	r := &CairoRunner{
		prog:     prog,
		layout:   l,
		cfg:      cfg,
		log:      logger,
		segments: memory.NewSegmentManager(),
		hp:       cfg.HintProcessor,
	}
	if r.hp == nil {
		r.hp = hints.NewProcessor(prog)
	}

	declared := make(map[builtins.Name]bool, len(prog.Builtins))
	for _, name := range prog.Builtins {
		declared[name] = true
	}
	for _, b := range l.Builtins {
		included := declared[b.Name]
		if !included && !cfg.ProofMode {
			continue
		}
		runner, err := builtins.New(b.Name, b.Def, included)
		if err != nil {
			return nil, err
		}
		r.runners = append(r.runners, runner)
		delete(declared, b.Name)
	}
	if len(declared) > 0 && !cfg.AllowMissingBuiltins {
		missing := make([]builtins.Name, 0, len(declared))
		for _, name := range prog.Builtins {
			if declared[name] {
				missing = append(missing, name)
			}
		}
		return nil, fmt.Errorf("%w %s: %v", ErrMissingBuiltin, l.Name, missing)
	}
	return r, nil
}

func (r *CairoRunner) Program() *program.Program         { return r.prog }
func (r *CairoRunner) Layout() *layout.Layout            { return r.layout }
func (r *CairoRunner) Segments() *memory.SegmentManager  { return r.segments }
func (r *CairoRunner) VM() *vm.VirtualMachine            { return r.vm }
func (r *CairoRunner) BuiltinRunners() []builtins.Runner { return r.runners }
func (r *CairoRunner) ProgramBase() memory.Relocatable   { return r.programBase }
func (r *CairoRunner) ExecutionBase() memory.Relocatable { return r.executionBase }
func (r *CairoRunner) FinalPC() memory.Relocatable       { return r.finalPC }

// BuiltinRunner returns the runner of name, if present.
func (r *CairoRunner) BuiltinRunner(name builtins.Name) (builtins.Runner, bool) {
	for _, b := range r.runners {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// InitializeSegments allocates the program, execution and builtin
// segments, in that order.
func (r *CairoRunner) InitializeSegments() {
	r.programBase = r.segments.AddSegment()
	r.executionBase = r.segments.AddSegment()
	for _, b := range r.runners {
		b.InitializeSegments(r.segments)
	}
	r.log.Debug("Initialized segments", "program", r.programBase, "execution", r.executionBase, "builtins", len(r.runners))
}

// builtinStack is the builtin pointers passed to main, in declaration
// order. Missing builtins get a zero placeholder when allowed.
func (r *CairoRunner) builtinStack() ([]memory.MaybeRelocatable, error) {
	var stack []memory.MaybeRelocatable
	for _, name := range r.prog.Builtins {
		b, ok := r.BuiltinRunner(name)
		if !ok {
			if !r.cfg.AllowMissingBuiltins {
				return nil, fmt.Errorf("%w: %s", ErrMissingBuiltin, name)
			}
			stack = append(stack, memory.FromUint64(0))
			continue
		}
		stack = append(stack, b.InitialStack()...)
	}
	return stack, nil
}

// InitializeMainEntrypoint prepares the initial stack and returns the pc
// at which the run ends.
func (r *CairoRunner) InitializeMainEntrypoint() (memory.Relocatable, error) {
	stack, err := r.builtinStack()
	if err != nil {
		return memory.Relocatable{}, err
	}
	if r.cfg.ProofMode {
		// a dummy frame lets the verifier enforce [fp - 2] = fp
		stack = append([]memory.MaybeRelocatable{
			memory.FromRelocatable(r.executionBase.AddUint(2)),
			memory.FromUint64(0),
		}, stack...)
		r.executionPublicMemory = make([]uint64, len(stack))
		for i := range stack {
			r.executionPublicMemory[i] = uint64(i)
		}
		start, err := r.prog.Start()
		if err != nil {
			return memory.Relocatable{}, err
		}
		end, err := r.prog.End()
		if err != nil {
			return memory.Relocatable{}, err
		}
		if err := r.initializeState(start, stack); err != nil {
			return memory.Relocatable{}, err
		}
		r.initialAP = r.executionBase.AddUint(2)
		r.initialFP = r.initialAP
		r.finalPC = r.programBase.AddUint(end)
		return r.finalPC, nil
	}
	main, err := r.prog.Main()
	if err != nil {
		return memory.Relocatable{}, fmt.Errorf("%w: %w", ErrMissingMain, err)
	}
	returnFP := memory.FromRelocatable(r.segments.AddSegment())
	return r.InitializeFunctionEntrypoint(main, stack, returnFP)
}

// InitializeFunctionEntrypoint calls the function at entrypoint with args
// and a return frame of returnFP and a fresh end segment.
func (r *CairoRunner) InitializeFunctionEntrypoint(entrypoint uint64, args []memory.MaybeRelocatable, returnFP memory.MaybeRelocatable) (memory.Relocatable, error) {
	end := r.segments.AddSegment()
	stack := append(append([]memory.MaybeRelocatable(nil), args...), returnFP, memory.FromRelocatable(end))
	if err := r.initializeState(entrypoint, stack); err != nil {
		return memory.Relocatable{}, err
	}
	r.initialFP = r.executionBase.AddUint(uint64(len(stack)))
	r.initialAP = r.initialFP
	r.finalPC = end
	r.returnFP = returnFP
	return end, nil
}

func (r *CairoRunner) initializeState(entrypoint uint64, stack []memory.MaybeRelocatable) error {
	r.initialPC = r.programBase.AddUint(entrypoint)
	if _, err := r.segments.LoadData(r.programBase, r.prog.MemoryData()); err != nil {
		return fmt.Errorf("failed to load program: %w", err)
	}
	if _, err := r.segments.LoadData(r.executionBase, stack); err != nil {
		return fmt.Errorf("failed to load initial stack: %w", err)
	}
	return nil
}

// InitializeVM creates the VM, installs the builtin validation rules,
// checks the memory written so far and compiles the program hints.
func (r *CairoRunner) InitializeVM() error {
	r.vm = vm.New(r.segments, r.runners, r.hp, r.log)
	r.vm.SetContext(vm.RunContext{PC: r.initialPC, AP: r.initialAP, FP: r.initialFP}, r.programBase)
	if r.cfg.Trace {
		r.vm.EnableTrace()
	}
	for _, b := range r.runners {
		b.AddValidationRules(r.segments.Memory)
	}
	if err := r.segments.Memory.ValidateExistingMemory(); err != nil {
		return err
	}
	compiled := make(map[uint64][]any, len(r.prog.Hints))
	for pc, list := range r.prog.Hints {
		for _, params := range list {
			h, err := r.hp.CompileHint(pc, params)
			if err != nil {
				return err
			}
			compiled[pc] = append(compiled[pc], h)
		}
	}
	r.vm.LoadHints(compiled)
	return nil
}

// Initialize runs the standard setup for main and returns the end pc.
func (r *CairoRunner) Initialize() (memory.Relocatable, error) {
	r.InitializeSegments()
	end, err := r.InitializeMainEntrypoint()
	if err != nil {
		return memory.Relocatable{}, err
	}
	if err := r.InitializeVM(); err != nil {
		return memory.Relocatable{}, err
	}
	return end, nil
}

// withLocation attaches the source location of the failing pc, if the
// program carries debug info for it.
func (r *CairoRunner) withLocation(err error) error {
	var exc *vm.VMException
	if !errors.As(err, &exc) || exc.Location != "" || exc.PC.Segment != r.programBase.Segment {
		return err
	}
	if loc, ok := r.prog.InstructionLocation(exc.PC.Offset - r.programBase.Offset); ok {
		exc.Location = loc.Inst.String()
	}
	return err
}

// RunUntilPC runs the VM until pc reaches end.
func (r *CairoRunner) RunUntilPC(ctx context.Context, end memory.Relocatable, resources *vm.RunResources) error {
	if r.vm == nil {
		return ErrNotInitialized
	}
	if err := r.vm.RunUntilPC(ctx, end, resources); err != nil {
		return r.withLocation(err)
	}
	return nil
}

// RunForSteps executes exactly n steps.
func (r *CairoRunner) RunForSteps(ctx context.Context, n uint64) error {
	if r.vm == nil {
		return ErrNotInitialized
	}
	return r.withLocation(r.vm.RunSteps(ctx, n))
}

// RunUntilNextPowerOf2 pads the run to a power of two steps.
func (r *CairoRunner) RunUntilNextPowerOf2(ctx context.Context) error {
	step := r.vm.CurrentStep()
	next := uint64(1)
	for next < step {
		next <<= 1
	}
	return r.RunForSteps(ctx, next-step)
}

// RunFromEntrypoint calls entrypoint with args on an initialized segment
// layout, runs it to completion and ends the run. args are converted with
// SegmentManager.GenArg.
func (r *CairoRunner) RunFromEntrypoint(ctx context.Context, entrypoint uint64, args []any, verifySecure bool, programSegmentSize *uint64, resources *vm.RunResources) error {
	stack := make([]memory.MaybeRelocatable, len(args))
	for i, a := range args {
		v, err := r.segments.GenArg(a)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		stack[i] = v
	}
	end, err := r.InitializeFunctionEntrypoint(entrypoint, stack, memory.FromUint64(0))
	if err != nil {
		return err
	}
	if err := r.InitializeVM(); err != nil {
		return err
	}
	if err := r.RunUntilPC(ctx, end, resources); err != nil {
		return err
	}
	if err := r.EndRun(ctx); err != nil {
		return err
	}
	if verifySecure {
		return r.VerifySecureRunner(true, programSegmentSize)
	}
	return nil
}

// Run initializes main, runs it and ends the run, verifying it when the
// config asks for a secure run.
func (r *CairoRunner) Run(ctx context.Context, resources *vm.RunResources) error {
	end, err := r.Initialize()
	if err != nil {
		return err
	}
	if err := r.RunUntilPC(ctx, end, resources); err != nil {
		return err
	}
	if err := r.EndRun(ctx); err != nil {
		return err
	}
	if _, err := r.ReadReturnValues(); err != nil {
		return err
	}
	if r.cfg.secureRun() {
		if err := r.VerifySecureRunner(true, nil); err != nil {
			return err
		}
	}
	r.log.Info("Run completed", "steps", r.vm.CurrentStep(), "layout", r.layout.Name, "proof_mode", r.cfg.ProofMode)
	return nil
}
