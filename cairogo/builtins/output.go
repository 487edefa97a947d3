package builtins

import (
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

// OutputRunner collects the program output. It has no constraints.
type OutputRunner struct {
	simpleRunner
}

func NewOutput(included bool) *OutputRunner {
	r := &OutputRunner{simpleRunner: newSimpleRunner(Output, InstanceDef{}, included, 1, 1)}
	r.unbounded = true
	r.additional = func() any {
		return map[string]any{
			"pages":      map[string]any{},
			"attributes": map[string]any{},
		}
	}
	return r
}

// Values returns the output cells from the segment base up to the stop
// pointer, or up to the used size before the stack was finalized.
func (r *OutputRunner) Values(mem *memory.Memory) ([]felt.Felt, error) {
	end, ok := r.StopPointer()
	if !ok {
		used, err := mem.UsedSize(r.base.Segment)
		if err != nil {
			return nil, err
		}
		end = used
	}
	out := make([]felt.Felt, 0, end)
	for i := uint64(0); i < end; i++ {
		addr := r.base.AddUint(i)
		v, err := mem.ReadFelt(addr)
		if err != nil {
			return nil, fmt.Errorf("output cell %s: %w", addr, err)
		}
		out = append(out, v)
	}
	return out, nil
}
