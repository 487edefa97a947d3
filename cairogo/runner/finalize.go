package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/builtins"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
	"github.com/ethereum-optimism/cairovm/cairogo/pie"
)

// ExecutionResources summarizes a run.
type ExecutionResources = pie.ExecutionResources

// scopeChecker is implemented by hint processors that track scopes.
type scopeChecker interface {
	CheckScopes() error
}

// EndRun pads the trace in proof mode, verifies auto-deductions, checks
// that hint scopes were exited and computes the segment sizes.
func (r *CairoRunner) EndRun(ctx context.Context) error {
	if r.vm == nil {
		return ErrNotInitialized
	}
	if r.runEnded {
		return ErrRunAlreadyEnded
	}
	// the bytecode is public, so none of it counts as a hole
	for i := range r.prog.Data {
		r.segments.Memory.MarkAccessed(r.programBase.AddUint(uint64(i)))
	}
	if r.cfg.ProofMode && !r.cfg.DisableTracePadding {
		if err := r.padTrace(ctx); err != nil {
			return err
		}
	}
	if err := r.vm.EndRun(); err != nil {
		return err
	}
	if sc, ok := r.hp.(scopeChecker); ok {
		if err := sc.CheckScopes(); err != nil {
			return err
		}
	}
	r.segments.ComputeEffectiveSizes()
	r.runEnded = true
	return nil
}

// padTrace steps until the step count is a power of two large enough for
// every builtin and for the range-check and memory units.
func (r *CairoRunner) padTrace(ctx context.Context) error {
	if err := r.RunUntilNextPowerOf2(ctx); err != nil {
		return err
	}
	for {
		r.segments.ComputeEffectiveSizes()
		err := r.CheckUsedCells()
		if err == nil {
			return nil
		}
		if !errors.Is(err, builtins.ErrInsufficientAllocatedCells) && !errors.Is(err, ErrInsufficientUnits) {
			return err
		}
		if err := r.RunForSteps(ctx, 1); err != nil {
			return err
		}
		if err := r.RunUntilNextPowerOf2(ctx); err != nil {
			return err
		}
	}
}

// ReadReturnValues pops the builtin pointers returned by main, in reverse
// declaration order, and returns the address just below them.
func (r *CairoRunner) ReadReturnValues() (memory.Relocatable, error) {
	if !r.runEnded {
		return memory.Relocatable{}, ErrRunNotEnded
	}
	pointer := r.vm.Context().AP
	for i := len(r.prog.Builtins) - 1; i >= 0; i-- {
		name := r.prog.Builtins[i]
		b, ok := r.BuiltinRunner(name)
		if !ok {
			if !r.cfg.AllowMissingBuiltins {
				return memory.Relocatable{}, fmt.Errorf("%w: %s", ErrMissingBuiltin, name)
			}
			next, err := pointer.SubUint(1)
			if err != nil {
				return memory.Relocatable{}, err
			}
			pointer = next
			continue
		}
		next, err := b.FinalStack(r.segments, pointer)
		if err != nil {
			return memory.Relocatable{}, err
		}
		pointer = next
	}
	ap := r.vm.Context().AP
	for addr := pointer; addr.Offset < ap.Offset; addr = addr.AddUint(1) {
		r.segments.Memory.MarkAccessed(addr)
	}
	return pointer, nil
}

// FinalizeSegments fixes segment sizes and public memory for the prover.
func (r *CairoRunner) FinalizeSegments() error {
	if r.segmentsFinalized {
		return nil
	}
	if !r.runEnded {
		return ErrRunNotEnded
	}
	size := uint64(len(r.prog.Data))
	public := make([]memory.PublicMemoryEntry, size)
	for i := range public {
		public[i] = memory.PublicMemoryEntry{Offset: r.programBase.Offset + uint64(i)}
	}
	r.segments.Finalize(r.programBase.Segment, &size, public)

	execPublic := make([]memory.PublicMemoryEntry, len(r.executionPublicMemory))
	for i, off := range r.executionPublicMemory {
		execPublic[i] = memory.PublicMemoryEntry{Offset: r.executionBase.Offset + off}
	}
	r.segments.Finalize(r.executionBase.Segment, nil, execPublic)

	for _, b := range r.runners {
		used, allocated, err := r.builtinSizes(b)
		if err != nil {
			return err
		}
		var builtinPublic []memory.PublicMemoryEntry
		if b.Name() == builtins.Output {
			builtinPublic = make([]memory.PublicMemoryEntry, used)
			for i := range builtinPublic {
				builtinPublic[i] = memory.PublicMemoryEntry{Offset: uint64(i)}
			}
		}
		r.segments.Finalize(b.Base().Segment, &allocated, builtinPublic)
	}
	r.segmentsFinalized = true
	return nil
}

// builtinSizes returns the used and finalized size of a builtin segment.
// Outside of proof mode the segment is only as large as its usage.
func (r *CairoRunner) builtinSizes(b builtins.Runner) (uint64, uint64, error) {
	if !r.cfg.ProofMode {
		used, err := b.UsedCells(r.segments)
		return used, used, err
	}
	return b.UsedCellsAndAllocatedSize(r.segments, r.vm.CurrentStep())
}

// CheckUsedCells verifies that the builtins, the range-check units and the
// memory units of the layout suffice for the run.
func (r *CairoRunner) CheckUsedCells() error {
	for _, b := range r.runners {
		if _, _, err := b.UsedCellsAndAllocatedSize(r.segments, r.vm.CurrentStep()); err != nil {
			return err
		}
	}
	if err := r.checkRangeCheckUsage(); err != nil {
		return err
	}
	return r.checkMemoryUsage()
}

// RangeCheckLimits returns the smallest and largest 16-bit value checked
// by instruction offsets and range-check builtins.
func (r *CairoRunner) RangeCheckLimits() (uint64, uint64, bool) {
	lo, hi, ok := r.vm.RcLimits()
	for _, b := range r.runners {
		rc, isRC := b.(*builtins.RangeCheckRunner)
		if !isRC {
			continue
		}
		bLo, bHi, bOK := rc.RangeCheckUsage(r.segments.Memory)
		if !bOK {
			continue
		}
		if !ok {
			lo, hi, ok = bLo, bHi, true
			continue
		}
		lo, hi = min(lo, bLo), max(hi, bHi)
	}
	return lo, hi, ok
}

func (r *CairoRunner) checkRangeCheckUsage() error {
	lo, hi, ok := r.RangeCheckLimits()
	if !ok {
		return nil
	}
	var usedByBuiltins uint64
	for _, b := range r.runners {
		if rc, isRC := b.(*builtins.RangeCheckRunner); isRC {
			used, err := rc.UsedCells(r.segments)
			if err != nil {
				return err
			}
			usedByBuiltins += used * rc.Parts()
		}
	}
	steps := int64(r.vm.CurrentStep())
	unused := (int64(r.layout.RcUnits)-3)*steps - int64(usedByBuiltins)
	if need := int64(hi - lo); unused < need {
		return fmt.Errorf("%w: %d range-check units needed, %d unused", ErrInsufficientUnits, need, unused)
	}
	return nil
}

func (r *CairoRunner) checkMemoryUsage() error {
	var builtinUnits uint64
	for _, b := range r.runners {
		units, err := b.AllocatedMemoryUnits(r.segments, r.vm.CurrentStep())
		if err != nil {
			return err
		}
		builtinUnits += units
	}
	steps := r.vm.CurrentStep()
	total := r.layout.MemoryUnitsPerStep * steps
	public := total / r.layout.PublicMemoryFraction
	instructions := 4 * steps
	unused := int64(total) - int64(public+instructions+builtinUnits)
	holes, err := r.memoryHoles()
	if err != nil {
		return err
	}
	if unused < int64(holes) {
		return fmt.Errorf("%w: %d memory holes, %d unused memory units", ErrInsufficientUnits, holes, unused)
	}
	return nil
}

func (r *CairoRunner) builtinSegments() map[int]bool {
	out := make(map[int]bool, len(r.runners))
	for _, b := range r.runners {
		out[b.Base().Segment] = true
	}
	return out
}

func (r *CairoRunner) memoryHoles() (uint64, error) {
	return r.segments.MemoryHoles(r.builtinSegments())
}

// VerifySecureRunner checks that the program segment was not written past
// programSegmentSize (the program length by default), that no builtin
// segment holds cells beyond its stop pointer, runs the builtin security
// checks and re-verifies auto-deductions.
func (r *CairoRunner) VerifySecureRunner(verifyBuiltins bool, programSegmentSize *uint64) error {
	if !r.runEnded {
		return ErrRunNotEnded
	}
	programSize := uint64(len(r.prog.Data))
	if programSegmentSize != nil {
		programSize = *programSegmentSize
	}
	stops := make(map[int]uint64, len(r.runners))
	names := make(map[int]builtins.Name, len(r.runners))
	for _, b := range r.runners {
		stop, ok := b.StopPointer()
		if !ok {
			continue
		}
		stops[b.Base().Segment] = stop
		names[b.Base().Segment] = b.Name()
	}
	err := r.segments.Memory.ForEach(func(addr memory.Relocatable, _ memory.MaybeRelocatable) error {
		if addr.Segment == r.programBase.Segment && addr.Offset >= programSize {
			return fmt.Errorf("%w: out of bounds access to program segment at %s", ErrSecurity, addr)
		}
		if stop, ok := stops[addr.Segment]; ok && addr.Offset >= stop {
			return fmt.Errorf("%w: out of bounds access to builtin segment %s at %s", ErrSecurity, names[addr.Segment], addr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if verifyBuiltins {
		for _, b := range r.runners {
			if err := b.RunSecurityChecks(r.segments); err != nil {
				return fmt.Errorf("%w: %w", ErrSecurity, err)
			}
		}
	}
	return r.vm.VerifyAutoDeductions()
}

// ExecutionResources reports the steps, builtin instances and memory holes
// of the run.
func (r *CairoRunner) ExecutionResources() (*ExecutionResources, error) {
	if !r.runEnded {
		return nil, ErrRunNotEnded
	}
	counter := make(map[string]uint64, len(r.runners))
	for _, b := range r.runners {
		if !b.Included() {
			continue
		}
		n, err := b.UsedInstances(r.segments)
		if err != nil {
			return nil, err
		}
		counter[b.Name().WithSuffix()] = n
	}
	holes, err := r.memoryHoles()
	if err != nil {
		return nil, err
	}
	return &ExecutionResources{
		NSteps:                 r.vm.CurrentStep(),
		BuiltinInstanceCounter: counter,
		NMemoryHoles:           holes,
	}, nil
}
