package builtins

import (
	"fmt"
	"sort"

	"github.com/ethereum-optimism/cairovm/cairogo/crypto"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

// PedersenRunner deduces h = pedersen(x, y) for instances (x, y, h).
type PedersenRunner struct {
	simpleRunner
	verified map[memory.Relocatable]struct{}
}

func NewPedersen(def InstanceDef, included bool) *PedersenRunner {
	r := &PedersenRunner{
		simpleRunner: newSimpleRunner(Pedersen, def, included, 3, 2),
		verified:     make(map[memory.Relocatable]struct{}),
	}
	r.deduce = r.deduceHash
	r.additional = r.verifiedAddresses
	return r
}

func (r *PedersenRunner) deduceHash(addr memory.Relocatable, mem *memory.Memory) (memory.MaybeRelocatable, bool, error) {
	start, idx := r.instance(addr)
	if idx != 2 {
		return memory.MaybeRelocatable{}, false, nil
	}
	in, ok := r.readInputs(mem, start)
	if !ok {
		return memory.MaybeRelocatable{}, false, nil
	}
	x, okX := in[0].Felt()
	y, okY := in[1].Felt()
	if !okX || !okY {
		return memory.MaybeRelocatable{}, false, fmt.Errorf("%w: pedersen inputs at %s", ErrNotFelt, start)
	}
	r.verified[addr] = struct{}{}
	return memory.FromFelt(crypto.Pedersen(x, y)), true, nil
}

func (r *PedersenRunner) verifiedAddresses() any {
	out := make([]memory.Relocatable, 0, len(r.verified))
	for addr := range r.verified {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
