package builtins

import (
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/crypto"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

const ecOpScalarHeight = 256

// ECOpRunner deduces r = p + m*q for instances (p.x, p.y, q.x, q.y, m,
// r.x, r.y).
type ECOpRunner struct {
	simpleRunner
	cache map[uint64]crypto.Point
}

func NewECOp(def InstanceDef, included bool) *ECOpRunner {
	r := &ECOpRunner{
		simpleRunner: newSimpleRunner(ECOp, def, included, 7, 5),
		cache:        make(map[uint64]crypto.Point),
	}
	r.deduce = r.deduceResult
	return r
}

func (r *ECOpRunner) deduceResult(addr memory.Relocatable, mem *memory.Memory) (memory.MaybeRelocatable, bool, error) {
	start, idx := r.instance(addr)
	if idx < r.nInputCells {
		return memory.MaybeRelocatable{}, false, nil
	}
	in, ok := r.readInputs(mem, start)
	if !ok {
		return memory.MaybeRelocatable{}, false, nil
	}
	vals := make([]felt.Felt, len(in))
	for i, v := range in {
		f, ok := v.Felt()
		if !ok {
			return memory.MaybeRelocatable{}, false, fmt.Errorf("%w: ec_op input at %s", ErrNotFelt, start.AddUint(uint64(i)))
		}
		vals[i] = f
	}
	res, ok := r.cache[start.Offset]
	if !ok {
		p := crypto.Point{X: vals[0], Y: vals[1]}
		q := crypto.Point{X: vals[2], Y: vals[3]}
		for _, pt := range []crypto.Point{p, q} {
			if !pt.IsOnCurve() {
				return memory.MaybeRelocatable{}, false, fmt.Errorf("ec_op instance at %s: %w: (%s, %s)", start, crypto.ErrNotOnCurve, pt.X, pt.Y)
			}
		}
		var err error
		res, err = crypto.ECOp(p, q, vals[4], ecOpScalarHeight)
		if err != nil {
			return memory.MaybeRelocatable{}, false, fmt.Errorf("ec_op instance at %s: %w", start, err)
		}
		r.cache[start.Offset] = res
	}
	if idx == 5 {
		return memory.FromFelt(res.X), true, nil
	}
	return memory.FromFelt(res.Y), true, nil
}
