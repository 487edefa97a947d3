package instruction

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

const (
	OffsetBits = 16
	offsetBias = 1 << (OffsetBits - 1)
	offsetMask = 1<<OffsetBits - 1

	flagsShift = 3 * OffsetBits
)

// flag bit positions, relative to flagsShift
const (
	dstRegBit = iota
	op0RegBit
	op1ImmBit
	op1FpBit
	op1ApBit
	resAddBit
	resMulBit
	pcJumpAbsBit
	pcJumpRelBit
	pcJnzBit
	apAddBit
	apAdd1Bit
	opcodeCallBit
	opcodeRetBit
	opcodeAssertEqBit
	reservedBit
)

var ErrDecode = errors.New("invalid instruction encoding")

// DecodeError reports a malformed instruction word.
type DecodeError struct {
	Encoding uint64
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid instruction encoding %#x: %s", e.Encoding, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

func bit(flags uint64, b int) uint64 {
	return (flags >> b) & 1
}

// Decode decodes an instruction word. imm must be given iff the instruction
// takes an immediate operand.
func Decode(encoding uint64, imm *felt.Felt) (*Instruction, error) {
	fail := func(format string, args ...any) (*Instruction, error) {
		return nil, &DecodeError{Encoding: encoding, Reason: fmt.Sprintf(format, args...)}
	}
	if encoding>>63 != 0 {
		return fail("bit %d of the flags must be zero", reservedBit)
	}
	flags := encoding >> flagsShift
	inst := &Instruction{
		Off0: int(encoding&offsetMask) - offsetBias,
		Off1: int((encoding>>OffsetBits)&offsetMask) - offsetBias,
		Off2: int((encoding>>(2*OffsetBits))&offsetMask) - offsetBias,
	}

	if bit(flags, dstRegBit) == 1 {
		inst.DstRegister = FP
	}
	if bit(flags, op0RegBit) == 1 {
		inst.Op0Register = FP
	}

	switch bit(flags, op1ImmBit) | bit(flags, op1FpBit)<<1 | bit(flags, op1ApBit)<<2 {
	case 0:
		inst.Op1Addr = Op1SrcOp0
	case 1:
		inst.Op1Addr = Op1SrcImm
	case 2:
		inst.Op1Addr = Op1SrcFP
	case 4:
		inst.Op1Addr = Op1SrcAP
	default:
		return fail("invalid op1 source flags")
	}
	if (inst.Op1Addr == Op1SrcImm) != (imm != nil) {
		if imm == nil {
			return fail("immediate operand is missing")
		}
		return fail("unexpected immediate operand")
	}
	if imm != nil {
		v := *imm
		inst.Imm = &v
	}

	switch bit(flags, pcJumpAbsBit) | bit(flags, pcJumpRelBit)<<1 | bit(flags, pcJnzBit)<<2 {
	case 0:
		inst.PcUpdate = PcUpdateRegular
	case 1:
		inst.PcUpdate = PcUpdateJump
	case 2:
		inst.PcUpdate = PcUpdateJumpRel
	case 4:
		inst.PcUpdate = PcUpdateJnz
	default:
		return fail("invalid pc update flags")
	}

	switch bit(flags, resAddBit) | bit(flags, resMulBit)<<1 {
	case 0:
		if inst.PcUpdate == PcUpdateJnz {
			inst.Res = ResUnconstrained
		} else {
			inst.Res = ResOp1
		}
	case 1:
		inst.Res = ResAdd
	case 2:
		inst.Res = ResMul
	default:
		return fail("invalid res logic flags")
	}
	if inst.PcUpdate == PcUpdateJnz && inst.Res != ResUnconstrained {
		return fail("jnz requires an unconstrained res")
	}

	switch bit(flags, apAddBit) | bit(flags, apAdd1Bit)<<1 {
	case 0:
		inst.ApUpdate = ApUpdateRegular
	case 1:
		inst.ApUpdate = ApUpdateAdd
	case 2:
		inst.ApUpdate = ApUpdateAdd1
	default:
		return fail("invalid ap update flags")
	}

	switch bit(flags, opcodeCallBit) | bit(flags, opcodeRetBit)<<1 | bit(flags, opcodeAssertEqBit)<<2 {
	case 0:
		inst.Opcode = OpcodeNop
	case 1:
		inst.Opcode = OpcodeCall
	case 2:
		inst.Opcode = OpcodeRet
	case 4:
		inst.Opcode = OpcodeAssertEq
	default:
		return fail("invalid opcode flags")
	}

	if inst.Opcode == OpcodeCall {
		if inst.ApUpdate != ApUpdateRegular {
			return fail("call must not carry ap update flags")
		}
		inst.ApUpdate = ApUpdateAdd2
	}

	switch inst.Opcode {
	case OpcodeCall:
		inst.FpUpdate = FpUpdateAPPlus2
	case OpcodeRet:
		inst.FpUpdate = FpUpdateDst
	default:
		inst.FpUpdate = FpUpdateRegular
	}
	return inst, nil
}

// DecodeFelt decodes an instruction word held in a field element.
func DecodeFelt(encoding felt.Felt, imm *felt.Felt) (*Instruction, error) {
	v, ok := encoding.Uint64()
	if !ok {
		return nil, &DecodeError{Encoding: ^uint64(0), Reason: fmt.Sprintf("instruction word %s does not fit in 63 bits", encoding)}
	}
	return Decode(v, imm)
}

// EncodeUint64 packs the instruction word, without the immediate.
func EncodeUint64(inst *Instruction) (uint64, error) {
	var encoding uint64
	for i, off := range []int{inst.Off0, inst.Off1, inst.Off2} {
		if off < -offsetBias || off >= offsetBias {
			return 0, fmt.Errorf("%w: offset %d out of range [-2^15, 2^15)", ErrDecode, off)
		}
		encoding |= uint64(off+offsetBias) << (i * OffsetBits)
	}

	var flags uint64
	if inst.DstRegister == FP {
		flags |= 1 << dstRegBit
	}
	if inst.Op0Register == FP {
		flags |= 1 << op0RegBit
	}
	switch inst.Op1Addr {
	case Op1SrcImm:
		flags |= 1 << op1ImmBit
	case Op1SrcFP:
		flags |= 1 << op1FpBit
	case Op1SrcAP:
		flags |= 1 << op1ApBit
	}
	if (inst.Op1Addr == Op1SrcImm) != (inst.Imm != nil) {
		return 0, fmt.Errorf("%w: immediate must be present iff op1 source is imm", ErrDecode)
	}

	if (inst.Res == ResUnconstrained) != (inst.PcUpdate == PcUpdateJnz) {
		return 0, fmt.Errorf("%w: unconstrained res must be used with jnz", ErrDecode)
	}
	switch inst.Res {
	case ResAdd:
		flags |= 1 << resAddBit
	case ResMul:
		flags |= 1 << resMulBit
	}

	switch inst.PcUpdate {
	case PcUpdateJump:
		flags |= 1 << pcJumpAbsBit
	case PcUpdateJumpRel:
		flags |= 1 << pcJumpRelBit
	case PcUpdateJnz:
		flags |= 1 << pcJnzBit
	}

	if (inst.ApUpdate == ApUpdateAdd2) != (inst.Opcode == OpcodeCall) {
		return 0, fmt.Errorf("%w: ap update add2 must be used with call", ErrDecode)
	}
	switch inst.ApUpdate {
	case ApUpdateAdd:
		flags |= 1 << apAddBit
	case ApUpdateAdd1:
		flags |= 1 << apAdd1Bit
	}

	switch inst.Opcode {
	case OpcodeCall:
		flags |= 1 << opcodeCallBit
	case OpcodeRet:
		flags |= 1 << opcodeRetBit
	case OpcodeAssertEq:
		flags |= 1 << opcodeAssertEqBit
	}

	return encoding | flags<<flagsShift, nil
}

// Encode returns the instruction word followed by the immediate, if any.
// The immediate is reduced modulo the field prime.
func Encode(inst *Instruction) ([]felt.Felt, error) {
	word, err := EncodeUint64(inst)
	if err != nil {
		return nil, err
	}
	out := []felt.Felt{felt.FromUint64(word)}
	if inst.Imm != nil {
		out = append(out, *inst.Imm)
	}
	return out, nil
}

// FlagsOf extracts the flag bits of an instruction word.
func FlagsOf(encoding uint64) uint16 {
	return uint16(encoding >> flagsShift)
}

// HasImmediate reports whether the instruction word takes an immediate.
func HasImmediate(encoding uint64) bool {
	return bit(encoding>>flagsShift, op1ImmBit) == 1
}

// BiasedOffsets returns the three offsets as stored in the word, i.e.
// shifted by 2^15 into [0, 2^16).
func BiasedOffsets(encoding uint64) [3]uint64 {
	return [3]uint64{
		encoding & offsetMask,
		(encoding >> OffsetBits) & offsetMask,
		(encoding >> (2 * OffsetBits)) & offsetMask,
	}
}
