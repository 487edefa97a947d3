package memory

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

func TestRelocatable(t *testing.T) {
	a := NewRelocatable(1, 5)
	require.Equal(t, NewRelocatable(1, 8), a.AddUint(3))

	b, err := a.AddInt(-5)
	require.NoError(t, err)
	require.Equal(t, NewRelocatable(1, 0), b)
	_, err = a.AddInt(-6)
	require.ErrorIs(t, err, ErrOffsetOverflow)

	c, err := a.AddFelt(felt.FromInt64(-1))
	require.NoError(t, err)
	require.Equal(t, NewRelocatable(1, 4), c)

	d, err := a.Sub(NewRelocatable(1, 7))
	require.NoError(t, err)
	require.Equal(t, felt.FromInt64(-2), d)
	_, err = a.Sub(NewRelocatable(2, 0))
	require.ErrorIs(t, err, ErrCrossSegment)

	cmp, err := a.Cmp(NewRelocatable(1, 9))
	require.NoError(t, err)
	require.Equal(t, -1, cmp)
	_, err = a.Cmp(NewRelocatable(0, 9))
	require.ErrorIs(t, err, ErrCrossSegment)

	require.Equal(t, "1:5", a.String())
}

func TestMaybeRelocatableArithmetic(t *testing.T) {
	three := FromUint64(3)
	ptr := FromRelocatable(NewRelocatable(2, 10))

	t.Run("felt+felt", func(t *testing.T) {
		v, err := three.Add(FromUint64(4))
		require.NoError(t, err)
		require.True(t, v.Equal(FromUint64(7)))
	})
	t.Run("rel+felt", func(t *testing.T) {
		v, err := three.Add(ptr)
		require.NoError(t, err)
		require.True(t, v.Equal(FromRelocatable(NewRelocatable(2, 13))))
	})
	t.Run("rel+rel", func(t *testing.T) {
		_, err := ptr.Add(ptr)
		require.ErrorIs(t, err, ErrInvalidOperation)
	})
	t.Run("rel-rel", func(t *testing.T) {
		v, err := FromRelocatable(NewRelocatable(2, 15)).Sub(ptr)
		require.NoError(t, err)
		require.True(t, v.Equal(FromUint64(5)))
		_, err = FromRelocatable(NewRelocatable(3, 15)).Sub(ptr)
		require.ErrorIs(t, err, ErrCrossSegment)
	})
	t.Run("felt-rel", func(t *testing.T) {
		_, err := three.Sub(ptr)
		require.ErrorIs(t, err, ErrInvalidOperation)
	})
	t.Run("mul", func(t *testing.T) {
		v, err := three.Mul(FromUint64(5))
		require.NoError(t, err)
		require.True(t, v.Equal(FromUint64(15)))
		_, err = ptr.Mul(three)
		require.ErrorIs(t, err, ErrInvalidOperation)
	})
	t.Run("zero", func(t *testing.T) {
		require.True(t, FromUint64(0).IsZero())
		require.False(t, FromRelocatable(NewRelocatable(0, 0)).IsZero())
	})
}

func TestMemoryWriteOnce(t *testing.T) {
	s := NewSegmentManager()
	base := s.AddSegment()
	mem := s.Memory

	addr := base.AddUint(3)
	require.NoError(t, mem.Write(addr, FromUint64(7)))
	require.NoError(t, mem.Write(addr, FromUint64(7)), "same value may be written twice")
	v, err := mem.Read(addr)
	require.NoError(t, err)
	require.True(t, v.Equal(FromUint64(7)))

	err = mem.Write(addr, FromUint64(8))
	require.ErrorIs(t, err, ErrInconsistentMemory)
	var inconsistent *InconsistentMemoryError
	require.True(t, errors.As(err, &inconsistent))
	require.Equal(t, addr, inconsistent.Addr)
	require.True(t, inconsistent.Old.Equal(FromUint64(7)))
	require.True(t, inconsistent.New.Equal(FromUint64(8)))

	err = mem.Write(addr, FromRelocatable(base))
	require.ErrorIs(t, err, ErrInconsistentMemory, "a felt cannot be replaced by a relocatable")

	_, err = mem.Read(base)
	require.ErrorIs(t, err, ErrUnknownCell)

	err = mem.Write(NewRelocatable(5, 0), FromUint64(1))
	require.ErrorIs(t, err, ErrUnknownSegment)

	mem.Freeze()
	require.ErrorIs(t, mem.Write(base, FromUint64(1)), ErrMemoryFrozen)
}

func TestMemoryTypedReads(t *testing.T) {
	s := NewSegmentManager()
	base := s.AddSegment()
	require.NoError(t, s.Memory.Write(base, FromUint64(1)))
	require.NoError(t, s.Memory.Write(base.AddUint(1), FromRelocatable(base)))

	_, err := s.Memory.ReadFelt(base.AddUint(1))
	require.ErrorIs(t, err, ErrUnexpectedType)
	_, err = s.Memory.ReadRelocatable(base)
	require.ErrorIs(t, err, ErrUnexpectedType)

	vals, err := s.Memory.ReadRange(base, 2)
	require.NoError(t, err)
	require.Len(t, vals, 2)
}

func TestValidationRules(t *testing.T) {
	s := NewSegmentManager()
	s.AddSegment()
	watched := s.AddSegment()
	mem := s.Memory

	calls := 0
	mem.AddValidationRule(watched.Segment, func(mem *Memory, addr Relocatable) ([]Relocatable, error) {
		calls++
		f, err := mem.ReadFelt(addr)
		if err != nil {
			return nil, err
		}
		if v, ok := f.Uint64(); !ok || v > 100 {
			return nil, errors.New("too large")
		}
		// deduce the neighbour cell: a rule may write memory itself
		if addr.Offset%2 == 0 {
			if err := mem.Write(addr.AddUint(1), FromFelt(f.Add(felt.One()))); err != nil {
				return nil, err
			}
		}
		return []Relocatable{addr}, nil
	})

	require.NoError(t, mem.Write(watched, FromUint64(10)))
	v, err := mem.ReadFelt(watched.AddUint(1))
	require.NoError(t, err)
	require.Equal(t, felt.FromUint64(11), v)
	require.Equal(t, 2, calls)

	require.Error(t, mem.Write(watched.AddUint(4), FromUint64(1000)))

	t.Run("existing memory", func(t *testing.T) {
		s := NewSegmentManager()
		seg := s.AddSegment()
		require.NoError(t, s.Memory.Write(seg, FromUint64(500)))
		s.Memory.AddValidationRule(seg.Segment, func(mem *Memory, addr Relocatable) ([]Relocatable, error) {
			return nil, errors.New("rejected")
		})
		require.Error(t, s.Memory.ValidateExistingMemory())
	})
}

func TestSegmentsRelocation(t *testing.T) {
	s := NewSegmentManager()
	prog := s.AddSegment()
	exec := s.AddSegment()

	_, err := s.LoadData(prog, []MaybeRelocatable{FromUint64(1), FromUint64(2), FromUint64(3)})
	require.NoError(t, err)
	require.NoError(t, s.Memory.Write(exec, FromRelocatable(prog.AddUint(2))))
	require.NoError(t, s.Memory.Write(exec.AddUint(3), FromUint64(9)))

	_, err = s.SegmentUsedSize(0)
	require.ErrorIs(t, err, ErrSizesNotComputed)

	s.ComputeEffectiveSizes()
	size, err := s.SegmentUsedSize(exec.Segment)
	require.NoError(t, err)
	require.Equal(t, uint64(4), size)

	table, err := s.RelocateSegments()
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 4}, table)

	relocated, _, err := s.RelocateMemory()
	require.NoError(t, err)
	require.Len(t, relocated, 8)
	require.Nil(t, relocated[0])
	require.Equal(t, felt.FromUint64(1), *relocated[1])
	require.Equal(t, felt.FromUint64(3), *relocated[4], "pointer to 0:2 relocates to 3")
	require.Nil(t, relocated[5])
	require.Equal(t, felt.FromUint64(9), *relocated[7])

	t.Run("finalized size", func(t *testing.T) {
		padded := uint64(8)
		s.Finalize(prog.Segment, &padded, nil)
		table, err := s.RelocateSegments()
		require.NoError(t, err)
		require.Equal(t, []uint64{1, 9}, table)
	})
}

func TestGenArg(t *testing.T) {
	s := NewSegmentManager()
	s.AddSegment()
	arg, err := s.GenArg([]any{1, []felt.Felt{felt.FromUint64(2), felt.FromUint64(3)}})
	require.NoError(t, err)
	ptr, ok := arg.Relocatable()
	require.True(t, ok)
	require.Equal(t, 3, s.NumSegments(), "inner list is materialized first")

	first, err := s.Memory.ReadFelt(ptr)
	require.NoError(t, err)
	require.Equal(t, felt.FromUint64(1), first)
	inner, err := s.Memory.ReadRelocatable(ptr.AddUint(1))
	require.NoError(t, err)
	v, err := s.Memory.ReadFelt(inner.AddUint(1))
	require.NoError(t, err)
	require.Equal(t, felt.FromUint64(3), v)

	_, err = s.GenArg(struct{}{})
	require.ErrorIs(t, err, ErrUnexpectedType)
}

func TestMemoryHoles(t *testing.T) {
	s := NewSegmentManager()
	a := s.AddSegment()
	b := s.AddSegment()
	for i := uint64(0); i < 4; i++ {
		require.NoError(t, s.Memory.Write(a.AddUint(i), FromUint64(i)))
		require.NoError(t, s.Memory.Write(b.AddUint(i), FromUint64(i)))
	}
	s.Memory.MarkAccessed(a)
	s.Memory.MarkAccessed(a.AddUint(2))
	s.ComputeEffectiveSizes()

	holes, err := s.MemoryHoles(map[int]bool{b.Segment: true})
	require.NoError(t, err)
	require.Equal(t, uint64(2), holes)
}

func TestMemoryBinary(t *testing.T) {
	s := NewSegmentManager()
	a := s.AddSegment()
	b := s.AddSegment()
	require.NoError(t, s.Memory.Write(a, FromFelt(felt.FromInt64(-1))))
	require.NoError(t, s.Memory.Write(a.AddUint(1), FromRelocatable(b.AddUint(7))))
	require.NoError(t, s.Memory.Write(b.AddUint(2), FromUint64(42)))

	buf := new(bytes.Buffer)
	require.NoError(t, s.Memory.Serialize(buf))
	require.Equal(t, 3*(AddrSize+FieldSize), buf.Len())

	m2 := NewMemory()
	require.NoError(t, m2.Deserialize(buf))
	require.Equal(t, 3, m2.Len())
	require.NoError(t, s.Memory.ForEach(func(addr Relocatable, value MaybeRelocatable) error {
		got, err := m2.Read(addr)
		require.NoError(t, err)
		require.True(t, value.Equal(got), "cell %s", addr)
		return nil
	}))
}
