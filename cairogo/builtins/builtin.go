// Package builtins implements the builtin runners: co-processors that each
// own one memory segment and constrain or deduce the values written there.
package builtins

import (
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

// Name identifies a builtin. The set is closed.
type Name string

const (
	Output       Name = "output"
	Pedersen     Name = "pedersen"
	RangeCheck   Name = "range_check"
	ECDSA        Name = "ecdsa"
	Bitwise      Name = "bitwise"
	ECOp         Name = "ec_op"
	Keccak       Name = "keccak"
	Poseidon     Name = "poseidon"
	RangeCheck96 Name = "range_check96"
	AddMod       Name = "add_mod"
	MulMod       Name = "mul_mod"
	SegmentArena Name = "segment_arena"
)

// Order is the canonical builtin order. Programs must declare builtins as a
// subsequence of it.
var Order = []Name{Output, Pedersen, RangeCheck, ECDSA, Bitwise, ECOp, Keccak, Poseidon, RangeCheck96, AddMod, MulMod}

func (n Name) String() string { return string(n) }

// WithSuffix is the name used by execution resources and stack pointers,
// e.g. "pedersen_builtin".
func (n Name) WithSuffix() string { return string(n) + "_builtin" }

// ParseName accepts names with or without the "_builtin" suffix.
func ParseName(s string) (Name, error) {
	const suffix = "_builtin"
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		s = s[:len(s)-len(suffix)]
	}
	n := Name(s)
	if n == SegmentArena {
		return n, nil
	}
	for _, known := range Order {
		if known == n {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBuiltin, s)
}

func (n Name) index() int {
	for i, known := range Order {
		if known == n {
			return i
		}
	}
	return len(Order)
}

// CheckOrder verifies that names follow the canonical order without
// repetition.
func CheckOrder(names []Name) error {
	last := -1
	for _, n := range names {
		i := n.index()
		if i <= last {
			return fmt.Errorf("%w: %s is out of order or repeated in %v", ErrBuiltinOrder, n, names)
		}
		last = i
	}
	return nil
}

// InstanceDef holds the layout parameters of a builtin.
type InstanceDef struct {
	// Ratio is the number of steps per builtin instance. Zero means the
	// allocation follows actual usage, as in the dynamic layout.
	Ratio uint64
	// InstancesPerComponent defaults to 1.
	InstancesPerComponent uint64

	// Modular builtins only.
	WordBitLen uint64
	NWords     uint64
	BatchSize  uint64
}

func (d InstanceDef) instancesPerComponent() uint64 {
	if d.InstancesPerComponent == 0 {
		return 1
	}
	return d.InstancesPerComponent
}

// Runner is the behaviour shared by all builtins.
type Runner interface {
	Name() Name
	// Included reports whether the program declares the builtin; layouts
	// in proof mode allocate segments for every builtin regardless.
	Included() bool
	Base() memory.Relocatable
	Ratio() uint64
	CellsPerInstance() uint64
	NInputCells() uint64
	InstancesPerComponent() uint64

	InitializeSegments(segments *memory.SegmentManager)
	InitialStack() []memory.MaybeRelocatable
	// FinalStack pops and validates the builtin's stop pointer from the
	// return stack ending just before pointer.
	FinalStack(segments *memory.SegmentManager, pointer memory.Relocatable) (memory.Relocatable, error)
	StopPointer() (uint64, bool)

	AddValidationRules(mem *memory.Memory)
	// DeduceMemoryCell computes the value of addr from its siblings. ok is
	// false when the cell is not deducible, e.g. an input cell.
	DeduceMemoryCell(addr memory.Relocatable, mem *memory.Memory) (value memory.MaybeRelocatable, ok bool, err error)

	UsedCells(segments *memory.SegmentManager) (uint64, error)
	UsedInstances(segments *memory.SegmentManager) (uint64, error)
	AllocatedInstances(segments *memory.SegmentManager, currentStep uint64) (uint64, error)
	AllocatedMemoryUnits(segments *memory.SegmentManager, currentStep uint64) (uint64, error)
	UsedCellsAndAllocatedSize(segments *memory.SegmentManager, currentStep uint64) (used uint64, allocated uint64, err error)
	RunSecurityChecks(segments *memory.SegmentManager) error

	// AdditionalData is the builtin state recorded in a Cairo PIE.
	AdditionalData() any
}

// New constructs the runner for name.
func New(name Name, def InstanceDef, included bool) (Runner, error) {
	switch name {
	case Output:
		return NewOutput(included), nil
	case Pedersen:
		return NewPedersen(def, included), nil
	case RangeCheck:
		return NewRangeCheck(def, included), nil
	case RangeCheck96:
		return NewRangeCheck96(def, included), nil
	case ECDSA:
		return NewECDSA(def, included), nil
	case Bitwise:
		return NewBitwise(def, included), nil
	case ECOp:
		return NewECOp(def, included), nil
	case Keccak:
		return NewKeccak(def, included), nil
	case AddMod, MulMod:
		return NewMod(name, def, included)
	case Poseidon, SegmentArena:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBuiltin, name)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBuiltin, string(name))
}
