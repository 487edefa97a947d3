package vm

import (
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/instruction"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

// RunContext holds the registers. pc points into the program segment,
// ap and fp into the execution segment.
type RunContext struct {
	PC memory.Relocatable
	AP memory.Relocatable
	FP memory.Relocatable
}

func (rc *RunContext) register(r instruction.Register) memory.Relocatable {
	if r == instruction.FP {
		return rc.FP
	}
	return rc.AP
}

func (rc *RunContext) DstAddr(inst *instruction.Instruction) (memory.Relocatable, error) {
	return rc.register(inst.DstRegister).AddInt(inst.Off0)
}

func (rc *RunContext) Op0Addr(inst *instruction.Instruction) (memory.Relocatable, error) {
	return rc.register(inst.Op0Register).AddInt(inst.Off1)
}

// Op1Addr computes the op1 address. op0 is only consulted for double
// dereferences and may be nil otherwise.
func (rc *RunContext) Op1Addr(inst *instruction.Instruction, op0 *memory.MaybeRelocatable) (memory.Relocatable, error) {
	var base memory.Relocatable
	switch inst.Op1Addr {
	case instruction.Op1SrcImm:
		if inst.Off2 != 1 {
			return memory.Relocatable{}, fmt.Errorf("%w: immediate operand requires off2 == 1, got %d", ErrUnknownOperand, inst.Off2)
		}
		base = rc.PC
	case instruction.Op1SrcAP:
		base = rc.AP
	case instruction.Op1SrcFP:
		base = rc.FP
	case instruction.Op1SrcOp0:
		if op0 == nil {
			return memory.Relocatable{}, fmt.Errorf("%w: op0 must be known in double dereference", ErrUnknownOperand)
		}
		r, ok := op0.Relocatable()
		if !ok {
			return memory.Relocatable{}, fmt.Errorf("%w: op0 %s is not an address", ErrUnknownOperand, op0)
		}
		base = r
	}
	return base.AddInt(inst.Off2)
}
