package instruction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

func TestDecodeKnownInstructions(t *testing.T) {
	t.Run("add with ap++", func(t *testing.T) {
		inst, err := Decode(0x48307ffe7fff8000, nil)
		require.NoError(t, err)
		require.Equal(t, 0, inst.Off0)
		require.Equal(t, -1, inst.Off1)
		require.Equal(t, -2, inst.Off2)
		require.Equal(t, AP, inst.DstRegister)
		require.Equal(t, AP, inst.Op0Register)
		require.Equal(t, Op1SrcAP, inst.Op1Addr)
		require.Equal(t, ResAdd, inst.Res)
		require.Equal(t, PcUpdateRegular, inst.PcUpdate)
		require.Equal(t, ApUpdateAdd1, inst.ApUpdate)
		require.Equal(t, FpUpdateRegular, inst.FpUpdate)
		require.Equal(t, OpcodeAssertEq, inst.Opcode)
		require.Equal(t, uint64(1), inst.Size())
	})
	t.Run("call rel", func(t *testing.T) {
		imm := felt.FromUint64(3)
		inst, err := Decode(0x1104800180018000, &imm)
		require.NoError(t, err)
		require.Equal(t, Op1SrcImm, inst.Op1Addr)
		require.Equal(t, 1, inst.Off2)
		require.Equal(t, PcUpdateJumpRel, inst.PcUpdate)
		require.Equal(t, ApUpdateAdd2, inst.ApUpdate)
		require.Equal(t, FpUpdateAPPlus2, inst.FpUpdate)
		require.Equal(t, OpcodeCall, inst.Opcode)
		require.Equal(t, uint64(2), inst.Size())
		require.True(t, inst.Imm.Equal(imm))
	})
	t.Run("ret", func(t *testing.T) {
		inst, err := Decode(0x208b7fff7fff7ffe, nil)
		require.NoError(t, err)
		require.Equal(t, -2, inst.Off0)
		require.Equal(t, FP, inst.DstRegister)
		require.Equal(t, Op1SrcFP, inst.Op1Addr)
		require.Equal(t, PcUpdateJump, inst.PcUpdate)
		require.Equal(t, FpUpdateDst, inst.FpUpdate)
		require.Equal(t, OpcodeRet, inst.Opcode)
	})
	t.Run("jnz", func(t *testing.T) {
		// jmp rel 5 if [fp-1] != 0
		imm := felt.FromUint64(5)
		inst, err := Decode(0x0207800180017fff, &imm)
		require.NoError(t, err)
		require.Equal(t, PcUpdateJnz, inst.PcUpdate)
		require.Equal(t, ResUnconstrained, inst.Res)
		require.Equal(t, -1, inst.Off0)
	})
}

func TestDecodeInvalid(t *testing.T) {
	cases := []struct {
		name     string
		encoding uint64
		imm      bool
	}{
		{"reserved flag bit", 1 << 63, false},
		{"op1 imm and fp", uint64(1<<op1ImmBit|1<<op1FpBit) << flagsShift, true},
		{"res add and mul", uint64(1<<resAddBit|1<<resMulBit) << flagsShift, false},
		{"pc jump and jnz", uint64(1<<pcJumpAbsBit|1<<pcJnzBit) << flagsShift, false},
		{"ap add and add1", uint64(1<<apAddBit|1<<apAdd1Bit) << flagsShift, false},
		{"call and ret", uint64(1<<opcodeCallBit|1<<opcodeRetBit) << flagsShift, false},
		{"jnz with res add", uint64(1<<pcJnzBit|1<<resAddBit) << flagsShift, false},
		{"call with ap add1", uint64(1<<opcodeCallBit|1<<apAdd1Bit) << flagsShift, false},
		{"missing immediate", uint64(1<<op1ImmBit) << flagsShift, false},
		{"unexpected immediate", 0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var imm *felt.Felt
			if c.imm {
				v := felt.One()
				imm = &v
			}
			_, err := Decode(c.encoding, imm)
			require.ErrorIs(t, err, ErrDecode)
			var decErr *DecodeError
			require.ErrorAs(t, err, &decErr)
			require.Equal(t, c.encoding, decErr.Encoding)
		})
	}
}

func TestDecodeFeltTooLarge(t *testing.T) {
	_, err := DecodeFelt(felt.FromUint64(1).Neg(), nil)
	require.ErrorIs(t, err, ErrDecode)
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, enc := range []uint64{
		0x48307ffe7fff8000,
		0x1104800180018000,
		0x208b7fff7fff7ffe,
		0x0207800180017fff,
		0x400680017fff8000, // [ap] = imm
	} {
		var imm *felt.Felt
		if (enc>>(flagsShift+op1ImmBit))&1 == 1 {
			v := felt.FromInt64(-7)
			imm = &v
		}
		inst, err := Decode(enc, imm)
		require.NoError(t, err)
		words, err := Encode(inst)
		require.NoError(t, err)
		got, ok := words[0].Uint64()
		require.True(t, ok)
		require.Equal(t, enc, got, "re-encoding %s", inst)
		require.Equal(t, int(inst.Size()), len(words))

		again, err := DecodeFelt(words[0], imm)
		require.NoError(t, err)
		require.True(t, inst.Equal(again))
	}
}

func TestEncodeInvalid(t *testing.T) {
	t.Run("offset out of range", func(t *testing.T) {
		_, err := EncodeUint64(&Instruction{Off0: 1 << 15, Res: ResOp1})
		require.ErrorIs(t, err, ErrDecode)
		_, err = EncodeUint64(&Instruction{Off1: -(1 << 15) - 1})
		require.ErrorIs(t, err, ErrDecode)
		_, err = EncodeUint64(&Instruction{Off2: -(1 << 15)})
		require.NoError(t, err)
	})
	t.Run("immediate pairing", func(t *testing.T) {
		_, err := EncodeUint64(&Instruction{Op1Addr: Op1SrcImm, Off2: 1})
		require.ErrorIs(t, err, ErrDecode)
	})
	t.Run("jnz pairing", func(t *testing.T) {
		_, err := EncodeUint64(&Instruction{PcUpdate: PcUpdateJnz, Res: ResOp1})
		require.ErrorIs(t, err, ErrDecode)
		_, err = EncodeUint64(&Instruction{Res: ResUnconstrained})
		require.ErrorIs(t, err, ErrDecode)
	})
	t.Run("call pairing", func(t *testing.T) {
		_, err := EncodeUint64(&Instruction{Opcode: OpcodeCall, ApUpdate: ApUpdateRegular, FpUpdate: FpUpdateAPPlus2})
		require.ErrorIs(t, err, ErrDecode)
		_, err = EncodeUint64(&Instruction{ApUpdate: ApUpdateAdd2})
		require.ErrorIs(t, err, ErrDecode)
	})
}
