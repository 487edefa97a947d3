package builtins

import (
	"fmt"
	"math/bits"

	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

type deduceFunc func(addr memory.Relocatable, mem *memory.Memory) (memory.MaybeRelocatable, bool, error)

// simpleRunner carries the machinery shared by every builtin. The
// per-builtin algebra plugs in through the deduce, rule and extraChecks
// hooks.
type simpleRunner struct {
	name             Name
	def              InstanceDef
	included         bool
	cellsPerInstance uint64
	nInputCells      uint64
	// unbounded builtins (output) are sized by usage and never run out
	// of cells.
	unbounded bool

	base    memory.Relocatable
	stopPtr *uint64

	deduce      deduceFunc
	rule        memory.ValidationRule
	extraChecks func(segments *memory.SegmentManager) error
	additional  func() any
}

func newSimpleRunner(name Name, def InstanceDef, included bool, cellsPerInstance, nInputCells uint64) simpleRunner {
	return simpleRunner{
		name:             name,
		def:              def,
		included:         included,
		cellsPerInstance: cellsPerInstance,
		nInputCells:      nInputCells,
	}
}

func (r *simpleRunner) Name() Name                    { return r.name }
func (r *simpleRunner) Included() bool                { return r.included }
func (r *simpleRunner) Base() memory.Relocatable      { return r.base }
func (r *simpleRunner) Ratio() uint64                 { return r.def.Ratio }
func (r *simpleRunner) CellsPerInstance() uint64      { return r.cellsPerInstance }
func (r *simpleRunner) NInputCells() uint64           { return r.nInputCells }
func (r *simpleRunner) InstancesPerComponent() uint64 { return r.def.instancesPerComponent() }

func (r *simpleRunner) InitializeSegments(segments *memory.SegmentManager) {
	r.base = segments.AddSegment()
}

func (r *simpleRunner) InitialStack() []memory.MaybeRelocatable {
	if !r.included {
		return nil
	}
	return []memory.MaybeRelocatable{memory.FromRelocatable(r.base)}
}

func (r *simpleRunner) FinalStack(segments *memory.SegmentManager, pointer memory.Relocatable) (memory.Relocatable, error) {
	if !r.included {
		zero := uint64(0)
		r.stopPtr = &zero
		return pointer, nil
	}
	addr, err := pointer.SubUint(1)
	if err != nil {
		return memory.Relocatable{}, fmt.Errorf("%w for %s: %v", ErrInvalidStopPointer, r.name, err)
	}
	stop, err := segments.Memory.ReadRelocatable(addr)
	if err != nil {
		return memory.Relocatable{}, fmt.Errorf("%w for %s: %v", ErrInvalidStopPointer, r.name, err)
	}
	if stop.Segment != r.base.Segment {
		return memory.Relocatable{}, fmt.Errorf("%w for %s: %s is not in segment %d", ErrInvalidStopPointer, r.name, stop, r.base.Segment)
	}
	used, err := r.UsedInstances(segments)
	if err != nil {
		return memory.Relocatable{}, err
	}
	if want := used * r.cellsPerInstance; stop.Offset != want {
		return memory.Relocatable{}, fmt.Errorf("%w for %s: expected offset %d, found %d", ErrInvalidStopPointer, r.name, want, stop.Offset)
	}
	r.stopPtr = &stop.Offset
	return addr, nil
}

func (r *simpleRunner) StopPointer() (uint64, bool) {
	if r.stopPtr == nil {
		return 0, false
	}
	return *r.stopPtr, true
}

func (r *simpleRunner) AddValidationRules(mem *memory.Memory) {
	if r.rule != nil {
		mem.AddValidationRule(r.base.Segment, r.rule)
	}
}

func (r *simpleRunner) DeduceMemoryCell(addr memory.Relocatable, mem *memory.Memory) (memory.MaybeRelocatable, bool, error) {
	if r.deduce == nil || addr.Segment != r.base.Segment {
		return memory.MaybeRelocatable{}, false, nil
	}
	return r.deduce(addr, mem)
}

func (r *simpleRunner) UsedCells(segments *memory.SegmentManager) (uint64, error) {
	return segments.SegmentUsedSize(r.base.Segment)
}

func (r *simpleRunner) UsedInstances(segments *memory.SegmentManager) (uint64, error) {
	used, err := r.UsedCells(segments)
	if err != nil {
		return 0, err
	}
	return divCeil(used, r.cellsPerInstance), nil
}

func (r *simpleRunner) AllocatedInstances(segments *memory.SegmentManager, currentStep uint64) (uint64, error) {
	perComponent := r.def.instancesPerComponent()
	if r.def.Ratio == 0 {
		used, err := r.UsedInstances(segments)
		if err != nil {
			return 0, err
		}
		components := divCeil(used, perComponent)
		if components > 0 {
			components = nextPowerOfTwo(components)
		}
		return perComponent * components, nil
	}
	if minStep := r.def.Ratio * perComponent; currentStep < minStep {
		return 0, fmt.Errorf("%w: %w: %s builtin needs %d steps, ran %d",
			ErrInsufficientAllocatedCells, ErrMinStepNotReached, r.name, minStep, currentStep)
	}
	return currentStep / r.def.Ratio, nil
}

func (r *simpleRunner) AllocatedMemoryUnits(segments *memory.SegmentManager, currentStep uint64) (uint64, error) {
	if r.unbounded {
		return 0, nil
	}
	instances, err := r.AllocatedInstances(segments, currentStep)
	if err != nil {
		return 0, err
	}
	return instances * r.cellsPerInstance, nil
}

func (r *simpleRunner) UsedCellsAndAllocatedSize(segments *memory.SegmentManager, currentStep uint64) (uint64, uint64, error) {
	used, err := r.UsedCells(segments)
	if err != nil {
		return 0, 0, err
	}
	if r.unbounded {
		return used, used, nil
	}
	allocated, err := r.AllocatedMemoryUnits(segments, currentStep)
	if err != nil {
		return 0, 0, err
	}
	if used > allocated {
		return 0, 0, &InsufficientAllocatedCellsError{Builtin: r.name, Used: used, Allocated: allocated}
	}
	return used, allocated, nil
}

// RunSecurityChecks verifies that every instance up to the highest written
// cell has all of its input cells, and that present output cells agree
// with their deduction when some outputs were never written.
func (r *simpleRunner) RunSecurityChecks(segments *memory.SegmentManager) error {
	if r.unbounded {
		return nil
	}
	mem := segments.Memory
	offsets := mem.Offsets(r.base.Segment)
	if len(offsets) > 0 {
		n := offsets[len(offsets)-1]/r.cellsPerInstance + 1
		if n > uint64(len(offsets))/r.nInputCells {
			return &SecurityError{Builtin: r.name, Reason: "missing memory cells"}
		}
		present := make(map[uint64]bool, len(offsets))
		for _, off := range offsets {
			present[off] = true
		}
		var missing []uint64
		for j := uint64(0); j < n; j++ {
			for i := uint64(0); i < r.nInputCells; i++ {
				if off := j*r.cellsPerInstance + i; !present[off] {
					missing = append(missing, off)
				}
			}
		}
		if len(missing) > 0 {
			return &SecurityError{Builtin: r.name, Reason: "missing input cells", Offsets: missing}
		}
		outputsMissing := false
		for j := uint64(0); j < n && !outputsMissing; j++ {
			for i := r.nInputCells; i < r.cellsPerInstance; i++ {
				if !present[j*r.cellsPerInstance+i] {
					outputsMissing = true
					break
				}
			}
		}
		if outputsMissing {
			if err := r.verifyDeductions(mem, offsets); err != nil {
				return err
			}
		}
	}
	if r.extraChecks != nil {
		return r.extraChecks(segments)
	}
	return nil
}

func (r *simpleRunner) verifyDeductions(mem *memory.Memory, offsets []uint64) error {
	for _, off := range offsets {
		addr := r.base.AddUint(off)
		want, ok, err := r.DeduceMemoryCell(addr, mem)
		if err != nil {
			return &SecurityError{Builtin: r.name, Reason: err.Error(), Offsets: []uint64{off}}
		}
		if !ok {
			continue
		}
		got, _ := mem.Get(addr)
		if !got.Equal(want) {
			return &SecurityError{
				Builtin: r.name,
				Reason:  fmt.Sprintf("inconsistent auto-deduction, expected %s, found %s", want, got),
				Offsets: []uint64{off},
			}
		}
	}
	return nil
}

func (r *simpleRunner) AdditionalData() any {
	if r.additional == nil {
		return nil
	}
	return r.additional()
}

// instance returns the first address of the instance holding addr and the
// index of addr within it.
func (r *simpleRunner) instance(addr memory.Relocatable) (memory.Relocatable, uint64) {
	idx := addr.Offset % r.cellsPerInstance
	return memory.NewRelocatable(addr.Segment, addr.Offset-idx), idx
}

// readInputs reads the input cells of the instance starting at start.
// ok is false if any of them is unknown.
func (r *simpleRunner) readInputs(mem *memory.Memory, start memory.Relocatable) ([]memory.MaybeRelocatable, bool) {
	out := make([]memory.MaybeRelocatable, r.nInputCells)
	for i := range out {
		v, ok := mem.Get(start.AddUint(uint64(i)))
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func divCeil(a, b uint64) uint64 {
	return (a + b - 1) / b
}

func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len64(v-1)
}
