package builtins

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

const (
	rangeCheckPartBits = 16
	rangeCheckParts    = 8
	rangeCheck96Parts  = 6
)

// RangeCheckRunner asserts that every cell of its segment is a field
// element below 2^(16*parts).
type RangeCheckRunner struct {
	simpleRunner
	parts uint64
	bound *uint256.Int
}

func NewRangeCheck(def InstanceDef, included bool) *RangeCheckRunner {
	return newRangeCheck(RangeCheck, def, included, rangeCheckParts)
}

func NewRangeCheck96(def InstanceDef, included bool) *RangeCheckRunner {
	return newRangeCheck(RangeCheck96, def, included, rangeCheck96Parts)
}

func newRangeCheck(name Name, def InstanceDef, included bool, parts uint64) *RangeCheckRunner {
	r := &RangeCheckRunner{
		simpleRunner: newSimpleRunner(name, def, included, 1, 1),
		parts:        parts,
		bound:        new(uint256.Int).Lsh(uint256.NewInt(1), uint(rangeCheckPartBits*parts)),
	}
	r.rule = r.validate
	return r
}

// Bound is the exclusive upper bound of checked values.
func (r *RangeCheckRunner) Bound() felt.Felt {
	return felt.FromBigInt(r.bound.ToBig())
}

func (r *RangeCheckRunner) Parts() uint64 { return r.parts }

func (r *RangeCheckRunner) validate(mem *memory.Memory, addr memory.Relocatable) ([]memory.Relocatable, error) {
	v, _ := mem.Get(addr)
	f, ok := v.Felt()
	if !ok {
		return nil, fmt.Errorf("%w: %s builtin cell %s holds %s", ErrNotFelt, r.name, addr, v)
	}
	if toUint256(f).Cmp(r.bound) >= 0 {
		return nil, fmt.Errorf("%w: value %s at %s, bound 2^%d", ErrRangeCheckOutOfBounds, f, addr, rangeCheckPartBits*r.parts)
	}
	return []memory.Relocatable{addr}, nil
}

// RangeCheckUsage returns the smallest and largest 16-bit part over all
// values in the segment. ok is false if the segment is empty.
func (r *RangeCheckRunner) RangeCheckUsage(mem *memory.Memory) (minPart, maxPart uint64, ok bool) {
	minPart = math.MaxUint64
	for _, off := range mem.Offsets(r.base.Segment) {
		v, _ := mem.Get(r.base.AddUint(off))
		f, isFelt := v.Felt()
		if !isFelt {
			continue
		}
		x := toUint256(f)
		for i := uint64(0); i < r.parts; i++ {
			part := new(uint256.Int).Rsh(x, uint(rangeCheckPartBits*i)).Uint64() & 0xffff
			minPart = min(minPart, part)
			maxPart = max(maxPart, part)
			ok = true
		}
	}
	if !ok {
		return 0, 0, false
	}
	return minPart, maxPart, true
}

func toUint256(f felt.Felt) *uint256.Int {
	e := f.Element()
	be := e.Bytes()
	return new(uint256.Int).SetBytes32(be[:])
}

func fromUint256(x *uint256.Int) felt.Felt {
	return felt.FromBigInt(x.ToBig())
}
