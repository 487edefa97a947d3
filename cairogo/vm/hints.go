package vm

import "github.com/ethereum-optimism/cairovm/cairogo/program"

// HintProcessor runs the hints attached to program pcs. Hints execute
// before the instruction at their pc and may only touch memory.
type HintProcessor interface {
	// CompileHint prepares a hint once; the result is handed back to
	// ExecuteHint whenever its pc is reached.
	CompileHint(pc uint64, params program.HintParams) (any, error)
	ExecuteHint(vm *VirtualMachine, hint any) error
}

// RunResources bounds the number of steps of a run. A nil Steps means no
// limit.
type RunResources struct {
	Steps *uint64
}

func NewRunResources(steps uint64) *RunResources {
	return &RunResources{Steps: &steps}
}

func (r *RunResources) Consumed() bool {
	return r != nil && r.Steps != nil && *r.Steps == 0
}

func (r *RunResources) ConsumeStep() {
	if r != nil && r.Steps != nil && *r.Steps > 0 {
		*r.Steps--
	}
}
