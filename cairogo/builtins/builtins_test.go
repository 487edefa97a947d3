package builtins

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/cairovm/cairogo/crypto"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

func setup(t *testing.T, r Runner) *memory.SegmentManager {
	segments := memory.NewSegmentManager()
	segments.AddSegment() // program
	segments.AddSegment() // execution
	r.InitializeSegments(segments)
	r.AddValidationRules(segments.Memory)
	require.Equal(t, 2, r.Base().Segment)
	return segments
}

func write(t *testing.T, mem *memory.Memory, addr memory.Relocatable, v felt.Felt) {
	require.NoError(t, mem.Write(addr, memory.FromFelt(v)))
}

func deduce(t *testing.T, r Runner, mem *memory.Memory, addr memory.Relocatable) felt.Felt {
	v, ok, err := r.DeduceMemoryCell(addr, mem)
	require.NoError(t, err)
	require.True(t, ok, "cell %s should be deducible", addr)
	f, isFelt := v.Felt()
	require.True(t, isFelt)
	return f
}

func TestNames(t *testing.T) {
	n, err := ParseName("pedersen_builtin")
	require.NoError(t, err)
	require.Equal(t, Pedersen, n)
	require.Equal(t, "range_check_builtin", RangeCheck.WithSuffix())
	_, err = ParseName("sha256")
	require.ErrorIs(t, err, ErrUnknownBuiltin)

	require.NoError(t, CheckOrder([]Name{Output, Pedersen, RangeCheck, Bitwise}))
	require.ErrorIs(t, CheckOrder([]Name{RangeCheck, Output}), ErrBuiltinOrder)
	require.ErrorIs(t, CheckOrder([]Name{Output, Output}), ErrBuiltinOrder)

	_, err = New(Poseidon, InstanceDef{Ratio: 32}, true)
	require.ErrorIs(t, err, ErrUnsupportedBuiltin)
	r, err := New(Keccak, InstanceDef{Ratio: 2048, InstancesPerComponent: 16}, true)
	require.NoError(t, err)
	require.Equal(t, uint64(16), r.CellsPerInstance())
	require.Equal(t, uint64(8), r.NInputCells())
}

func TestRangeCheck(t *testing.T) {
	r := NewRangeCheck(InstanceDef{Ratio: 8}, true)
	segments := setup(t, r)
	mem := segments.Memory
	bound := new(big.Int).Lsh(big.NewInt(1), 128)
	require.Equal(t, felt.FromBigInt(bound), r.Bound())

	write(t, mem, r.Base(), felt.FromBigInt(new(big.Int).Sub(bound, big.NewInt(1))))
	err := mem.Write(r.Base().AddUint(1), memory.FromFelt(felt.FromBigInt(bound)))
	require.ErrorIs(t, err, ErrRangeCheckOutOfBounds)
	err = mem.Write(r.Base().AddUint(2), memory.FromRelocatable(memory.NewRelocatable(1, 0)))
	require.ErrorIs(t, err, ErrNotFelt)
	err = mem.Write(r.Base().AddUint(3), memory.FromFelt(felt.FromInt64(-1)))
	require.ErrorIs(t, err, ErrRangeCheckOutOfBounds)

	t.Run("existing memory", func(t *testing.T) {
		segments := memory.NewSegmentManager()
		segments.AddSegment()
		r := NewRangeCheck(InstanceDef{Ratio: 8}, true)
		r.InitializeSegments(segments)
		write(t, segments.Memory, r.Base(), felt.FromBigInt(bound))
		r.AddValidationRules(segments.Memory)
		require.ErrorIs(t, segments.Memory.ValidateExistingMemory(), ErrRangeCheckOutOfBounds)
	})
	t.Run("range_check96", func(t *testing.T) {
		r := NewRangeCheck96(InstanceDef{Ratio: 8}, true)
		segments := setup(t, r)
		write(t, segments.Memory, r.Base(), felt.FromBigInt(new(big.Int).Lsh(big.NewInt(1), 95)))
		err := segments.Memory.Write(r.Base().AddUint(1), memory.FromFelt(felt.FromBigInt(new(big.Int).Lsh(big.NewInt(1), 96))))
		require.ErrorIs(t, err, ErrRangeCheckOutOfBounds)
	})
}

func TestRangeCheckUsage(t *testing.T) {
	r := NewRangeCheck(InstanceDef{Ratio: 8}, true)
	segments := setup(t, r)
	_, _, ok := r.RangeCheckUsage(segments.Memory)
	require.False(t, ok)

	write(t, segments.Memory, r.Base(), felt.FromUint64(0x3_0002))
	write(t, segments.Memory, r.Base().AddUint(1), felt.FromUint64(0x5))
	lo, hi, ok := r.RangeCheckUsage(segments.Memory)
	require.True(t, ok)
	require.Equal(t, uint64(0), lo)
	require.Equal(t, uint64(5), hi)
}

func TestPedersen(t *testing.T) {
	r := NewPedersen(InstanceDef{Ratio: 8}, true)
	segments := setup(t, r)
	mem := segments.Memory
	write(t, mem, r.Base(), felt.Zero())
	write(t, mem, r.Base().AddUint(1), felt.Zero())

	require.Equal(t, crypto.PedersenShift(), deduce(t, r, mem, r.Base().AddUint(2)))
	_, ok, err := r.DeduceMemoryCell(r.Base().AddUint(1), mem)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = r.DeduceMemoryCell(r.Base().AddUint(5), mem)
	require.NoError(t, err)
	require.False(t, ok, "inputs of the second instance are unknown")
	require.Len(t, r.AdditionalData(), 1)
}

func TestBitwise(t *testing.T) {
	r := NewBitwise(InstanceDef{Ratio: 8}, true)
	segments := setup(t, r)
	mem := segments.Memory
	write(t, mem, r.Base(), felt.FromUint64(0b1100))
	write(t, mem, r.Base().AddUint(1), felt.FromUint64(0b1010))
	require.Equal(t, felt.FromUint64(0b1000), deduce(t, r, mem, r.Base().AddUint(2)))
	require.Equal(t, felt.FromUint64(0b0110), deduce(t, r, mem, r.Base().AddUint(3)))
	require.Equal(t, felt.FromUint64(0b1110), deduce(t, r, mem, r.Base().AddUint(4)))

	write(t, mem, r.Base().AddUint(5), felt.FromBigInt(new(big.Int).Lsh(big.NewInt(1), 251)))
	write(t, mem, r.Base().AddUint(6), felt.One())
	_, _, err := r.DeduceMemoryCell(r.Base().AddUint(7), mem)
	require.ErrorIs(t, err, ErrInputTooLarge)
}

func TestECOp(t *testing.T) {
	r := NewECOp(InstanceDef{Ratio: 1024}, true)
	segments := setup(t, r)
	mem := segments.Memory
	g := crypto.Generator()
	g2, err := crypto.ECDouble(g)
	require.NoError(t, err)
	for i, v := range []felt.Felt{g.X, g.Y, g2.X, g2.Y, felt.FromUint64(3)} {
		write(t, mem, r.Base().AddUint(uint64(i)), v)
	}
	want, err := crypto.ECOp(g, g2, felt.FromUint64(3), 256)
	require.NoError(t, err)
	require.Equal(t, want.X, deduce(t, r, mem, r.Base().AddUint(5)))
	require.Equal(t, want.Y, deduce(t, r, mem, r.Base().AddUint(6)))

	t.Run("point not on curve", func(t *testing.T) {
		base := r.Base().AddUint(7)
		for i, v := range []felt.Felt{g.X, g.Y.Add(felt.One()), g2.X, g2.Y, felt.One()} {
			write(t, mem, base.AddUint(uint64(i)), v)
		}
		_, _, err := r.DeduceMemoryCell(base.AddUint(5), mem)
		require.ErrorIs(t, err, crypto.ErrNotOnCurve)
	})
}

func TestECDSA(t *testing.T) {
	priv := big.NewInt(0x1d3f5a7b9c)
	pub := crypto.PublicKey(priv)
	msg := felt.FromUint64(0xabcdef)
	k := big.NewInt(987654321)
	var sig Signature
	for {
		rr, s, err := crypto.Sign(priv, msg, k)
		if err == nil {
			sig = Signature{R: rr, S: s}
			break
		}
		k.Add(k, big.NewInt(1))
	}

	r := NewECDSA(InstanceDef{Ratio: 512}, true)
	segments := setup(t, r)
	mem := segments.Memory

	require.ErrorIs(t, r.AddSignature(r.Base().AddUint(1), sig), ErrInvalidSignature)
	require.NoError(t, r.AddSignature(r.Base(), sig))
	write(t, mem, r.Base(), pub)
	write(t, mem, r.Base().AddUint(1), msg)

	t.Run("missing signature", func(t *testing.T) {
		write(t, mem, r.Base().AddUint(2), pub)
		err := mem.Write(r.Base().AddUint(3), memory.FromFelt(msg))
		require.ErrorIs(t, err, ErrMissingSignature)
	})
	t.Run("wrong message", func(t *testing.T) {
		require.NoError(t, r.AddSignature(r.Base().AddUint(4), sig))
		write(t, mem, r.Base().AddUint(4), pub)
		err := mem.Write(r.Base().AddUint(5), memory.FromFelt(msg.Add(felt.One())))
		require.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestKeccak(t *testing.T) {
	r := NewKeccak(InstanceDef{Ratio: 2048, InstancesPerComponent: 16}, true)
	segments := setup(t, r)
	mem := segments.Memory
	for i := uint64(0); i < 8; i++ {
		write(t, mem, r.Base().AddUint(i), felt.Zero())
	}
	var lanes [25]uint64
	crypto.KeccakF1600(&lanes)
	// The first output holds lanes 0..2 and the low byte of lane 3.
	want := new(big.Int).SetUint64(lanes[3] & 0xff)
	for i := 2; i >= 0; i-- {
		want.Lsh(want, 64)
		want.Or(want, new(big.Int).SetUint64(lanes[i]))
	}
	require.Equal(t, felt.FromBigInt(want), deduce(t, r, mem, r.Base().AddUint(8)))
	for i := uint64(9); i < 16; i++ {
		require.Less(t, deduce(t, r, mem, r.Base().AddUint(i)).BitLen(), 201)
	}

	base := r.Base().AddUint(16)
	write(t, mem, base, felt.FromBigInt(new(big.Int).Lsh(big.NewInt(1), 200)))
	for i := uint64(1); i < 8; i++ {
		write(t, mem, base.AddUint(i), felt.Zero())
	}
	_, _, err := r.DeduceMemoryCell(base.AddUint(8), mem)
	require.ErrorIs(t, err, ErrInputTooLarge)
}

func TestCapacity(t *testing.T) {
	r := NewRangeCheck(InstanceDef{Ratio: 8}, true)
	segments := setup(t, r)
	for i := uint64(0); i < 3; i++ {
		write(t, segments.Memory, r.Base().AddUint(i), felt.FromUint64(i))
	}
	segments.ComputeEffectiveSizes()

	used, allocated, err := r.UsedCellsAndAllocatedSize(segments, 24)
	require.NoError(t, err)
	require.Equal(t, uint64(3), used)
	require.Equal(t, uint64(3), allocated)

	_, _, err = r.UsedCellsAndAllocatedSize(segments, 16)
	var capErr *InsufficientAllocatedCellsError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, InsufficientAllocatedCellsError{Builtin: RangeCheck, Used: 3, Allocated: 2}, *capErr)

	_, _, err = r.UsedCellsAndAllocatedSize(segments, 7)
	require.ErrorIs(t, err, ErrMinStepNotReached)
	require.ErrorIs(t, err, ErrInsufficientAllocatedCells)

	t.Run("dynamic ratio", func(t *testing.T) {
		d := NewRangeCheck(InstanceDef{}, true)
		segments := setup(t, d)
		for i := uint64(0); i < 3; i++ {
			write(t, segments.Memory, d.Base().AddUint(i), felt.FromUint64(i))
		}
		segments.ComputeEffectiveSizes()
		n, err := d.AllocatedInstances(segments, 0)
		require.NoError(t, err)
		require.Equal(t, uint64(4), n)
	})
	t.Run("output is unbounded", func(t *testing.T) {
		o := NewOutput(true)
		segments := setup(t, o)
		write(t, segments.Memory, o.Base().AddUint(9), felt.One())
		segments.ComputeEffectiveSizes()
		used, allocated, err := o.UsedCellsAndAllocatedSize(segments, 1)
		require.NoError(t, err)
		require.Equal(t, used, allocated)
	})
}

func TestFinalStack(t *testing.T) {
	r := NewBitwise(InstanceDef{Ratio: 8}, true)
	segments := setup(t, r)
	mem := segments.Memory
	write(t, mem, r.Base(), felt.One())
	write(t, mem, r.Base().AddUint(1), felt.One())
	segments.ComputeEffectiveSizes()

	exec := memory.NewRelocatable(1, 0)
	require.NoError(t, mem.Write(exec.AddUint(4), memory.FromRelocatable(r.Base().AddUint(5))))
	ptr, err := r.FinalStack(segments, exec.AddUint(5))
	require.NoError(t, err)
	require.Equal(t, exec.AddUint(4), ptr)
	stop, ok := r.StopPointer()
	require.True(t, ok)
	require.Equal(t, uint64(5), stop)

	require.NoError(t, mem.Write(exec.AddUint(7), memory.FromRelocatable(r.Base().AddUint(10))))
	_, err = r.FinalStack(segments, exec.AddUint(8))
	require.ErrorIs(t, err, ErrInvalidStopPointer)

	t.Run("not included", func(t *testing.T) {
		n := NewBitwise(InstanceDef{Ratio: 8}, false)
		segments := setup(t, n)
		require.Empty(t, n.InitialStack())
		ptr, err := n.FinalStack(segments, exec.AddUint(3))
		require.NoError(t, err)
		require.Equal(t, exec.AddUint(3), ptr)
	})
}

func TestSecurityChecks(t *testing.T) {
	t.Run("missing input cell", func(t *testing.T) {
		r := NewPedersen(InstanceDef{Ratio: 8}, true)
		segments := setup(t, r)
		mem := segments.Memory
		write(t, mem, r.Base(), felt.Zero())
		write(t, mem, r.Base().AddUint(1), felt.Zero())
		write(t, mem, r.Base().AddUint(2), crypto.PedersenShift())
		write(t, mem, r.Base().AddUint(4), felt.Zero())
		segments.ComputeEffectiveSizes()
		err := r.RunSecurityChecks(segments)
		var secErr *SecurityError
		require.ErrorAs(t, err, &secErr)
		require.Equal(t, []uint64{3}, secErr.Offsets)
	})
	t.Run("too few cells", func(t *testing.T) {
		r := NewPedersen(InstanceDef{Ratio: 8}, true)
		segments := setup(t, r)
		write(t, segments.Memory, r.Base().AddUint(5), felt.Zero())
		segments.ComputeEffectiveSizes()
		require.ErrorIs(t, r.RunSecurityChecks(segments), ErrSecurity)
	})
	t.Run("wrong output with missing outputs", func(t *testing.T) {
		r := NewPedersen(InstanceDef{Ratio: 8}, true)
		segments := setup(t, r)
		mem := segments.Memory
		write(t, mem, r.Base(), felt.Zero())
		write(t, mem, r.Base().AddUint(1), felt.Zero())
		write(t, mem, r.Base().AddUint(2), felt.One())
		write(t, mem, r.Base().AddUint(3), felt.Zero())
		write(t, mem, r.Base().AddUint(4), felt.Zero())
		segments.ComputeEffectiveSizes()
		require.ErrorIs(t, r.RunSecurityChecks(segments), ErrSecurity)
	})
	t.Run("complete", func(t *testing.T) {
		r := NewBitwise(InstanceDef{Ratio: 8}, true)
		segments := setup(t, r)
		mem := segments.Memory
		for i, v := range []uint64{3, 5, 1, 6, 7} {
			write(t, mem, r.Base().AddUint(uint64(i)), felt.FromUint64(v))
		}
		segments.ComputeEffectiveSizes()
		require.NoError(t, r.RunSecurityChecks(segments))
	})
}
