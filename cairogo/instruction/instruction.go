// Package instruction encodes and decodes Cairo instructions.
//
// An instruction word is a 63-bit integer: three 16-bit biased offsets in
// the low 48 bits followed by 15 flag bits. Instructions with an immediate
// operand take a second word holding the immediate.
package instruction

import (
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

type Register uint8

const (
	AP Register = iota
	FP
)

func (r Register) String() string {
	if r == FP {
		return "fp"
	}
	return "ap"
}

type Op1Src uint8

const (
	Op1SrcOp0 Op1Src = iota
	Op1SrcImm
	Op1SrcAP
	Op1SrcFP
)

func (o Op1Src) String() string {
	switch o {
	case Op1SrcImm:
		return "imm"
	case Op1SrcAP:
		return "ap"
	case Op1SrcFP:
		return "fp"
	}
	return "op0"
}

type ResLogic uint8

const (
	ResOp1 ResLogic = iota
	ResAdd
	ResMul
	ResUnconstrained
)

func (r ResLogic) String() string {
	switch r {
	case ResAdd:
		return "add"
	case ResMul:
		return "mul"
	case ResUnconstrained:
		return "unconstrained"
	}
	return "op1"
}

type PcUpdate uint8

const (
	PcUpdateRegular PcUpdate = iota
	PcUpdateJump
	PcUpdateJumpRel
	PcUpdateJnz
)

func (p PcUpdate) String() string {
	switch p {
	case PcUpdateJump:
		return "jump"
	case PcUpdateJumpRel:
		return "jump_rel"
	case PcUpdateJnz:
		return "jnz"
	}
	return "regular"
}

type ApUpdate uint8

const (
	ApUpdateRegular ApUpdate = iota
	ApUpdateAdd
	ApUpdateAdd1
	ApUpdateAdd2
)

func (a ApUpdate) String() string {
	switch a {
	case ApUpdateAdd:
		return "add"
	case ApUpdateAdd1:
		return "add1"
	case ApUpdateAdd2:
		return "add2"
	}
	return "regular"
}

type FpUpdate uint8

const (
	FpUpdateRegular FpUpdate = iota
	FpUpdateAPPlus2
	FpUpdateDst
)

func (f FpUpdate) String() string {
	switch f {
	case FpUpdateAPPlus2:
		return "ap_plus2"
	case FpUpdateDst:
		return "dst"
	}
	return "regular"
}

type Opcode uint8

const (
	OpcodeNop Opcode = iota
	OpcodeAssertEq
	OpcodeCall
	OpcodeRet
)

func (o Opcode) String() string {
	switch o {
	case OpcodeAssertEq:
		return "assert_eq"
	case OpcodeCall:
		return "call"
	case OpcodeRet:
		return "ret"
	}
	return "nop"
}

// Instruction is a decoded Cairo instruction.
type Instruction struct {
	Off0 int
	Off1 int
	Off2 int
	// Imm is set iff Op1Addr is Op1SrcImm.
	Imm *felt.Felt

	DstRegister Register
	Op0Register Register
	Op1Addr     Op1Src
	Res         ResLogic
	PcUpdate    PcUpdate
	ApUpdate    ApUpdate
	FpUpdate    FpUpdate
	Opcode      Opcode
}

// Size is the number of memory cells the instruction occupies.
func (inst *Instruction) Size() uint64 {
	if inst.Imm != nil {
		return 2
	}
	return 1
}

func (inst *Instruction) String() string {
	imm := ""
	if inst.Imm != nil {
		imm = " imm=" + inst.Imm.String()
	}
	return fmt.Sprintf("%s dst=[%s%+d] op0=[%s%+d] op1=%s%+d res=%s pc=%s ap=%s fp=%s%s",
		inst.Opcode, inst.DstRegister, inst.Off0, inst.Op0Register, inst.Off1, inst.Op1Addr, inst.Off2,
		inst.Res, inst.PcUpdate, inst.ApUpdate, inst.FpUpdate, imm)
}

// Equal compares all decoded fields, including the immediate value.
func (inst *Instruction) Equal(o *Instruction) bool {
	if (inst.Imm == nil) != (o.Imm == nil) {
		return false
	}
	if inst.Imm != nil && !inst.Imm.Equal(*o.Imm) {
		return false
	}
	a, b := *inst, *o
	a.Imm, b.Imm = nil, nil
	return a == b
}
