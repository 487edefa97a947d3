package builtins

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

const bitwiseTotalBits = 251

// BitwiseRunner deduces (x&y, x^y, x|y) for instances (x, y, and, xor, or).
type BitwiseRunner struct {
	simpleRunner
}

func NewBitwise(def InstanceDef, included bool) *BitwiseRunner {
	r := &BitwiseRunner{simpleRunner: newSimpleRunner(Bitwise, def, included, 5, 2)}
	r.deduce = r.deduceOp
	return r
}

func (r *BitwiseRunner) deduceOp(addr memory.Relocatable, mem *memory.Memory) (memory.MaybeRelocatable, bool, error) {
	start, idx := r.instance(addr)
	if idx < r.nInputCells {
		return memory.MaybeRelocatable{}, false, nil
	}
	in, ok := r.readInputs(mem, start)
	if !ok {
		return memory.MaybeRelocatable{}, false, nil
	}
	var ops [2]*uint256.Int
	for i, v := range in {
		f, ok := v.Felt()
		if !ok {
			return memory.MaybeRelocatable{}, false, fmt.Errorf("%w: bitwise input at %s", ErrNotFelt, start.AddUint(uint64(i)))
		}
		if f.BitLen() > bitwiseTotalBits {
			return memory.MaybeRelocatable{}, false, fmt.Errorf("%w: bitwise input %s at %s exceeds %d bits",
				ErrInputTooLarge, f, start.AddUint(uint64(i)), bitwiseTotalBits)
		}
		ops[i] = toUint256(f)
	}
	res := new(uint256.Int)
	switch idx {
	case 2:
		res.And(ops[0], ops[1])
	case 3:
		res.Xor(ops[0], ops[1])
	case 4:
		res.Or(ops[0], ops[1])
	}
	return memory.FromFelt(fromUint256(res)), true, nil
}
