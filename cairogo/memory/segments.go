package memory

import (
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

// PublicMemoryEntry marks a cell of a segment as part of the public memory.
type PublicMemoryEntry struct {
	Offset uint64 `json:"offset"`
	Page   uint64 `json:"page"`
}

// SegmentManager allocates segments and relocates them to flat memory once
// their sizes are known.
type SegmentManager struct {
	Memory *Memory

	usedSizes    []uint64
	sizes        map[int]uint64
	publicMemory map[int][]PublicMemoryEntry
}

func NewSegmentManager() *SegmentManager {
	return &SegmentManager{
		Memory:       NewMemory(),
		sizes:        make(map[int]uint64),
		publicMemory: make(map[int][]PublicMemoryEntry),
	}
}

// AddSegment returns the base of a new, empty segment.
func (s *SegmentManager) AddSegment() Relocatable {
	return NewRelocatable(s.Memory.addSegment(), 0)
}

func (s *SegmentManager) NumSegments() int {
	return s.Memory.NumSegments()
}

// LoadData writes data at consecutive addresses from ptr and returns the
// address following the last written cell.
func (s *SegmentManager) LoadData(ptr Relocatable, data []MaybeRelocatable) (Relocatable, error) {
	for i, v := range data {
		if err := s.Memory.Write(ptr.AddUint(uint64(i)), v); err != nil {
			return Relocatable{}, err
		}
	}
	return ptr.AddUint(uint64(len(data))), nil
}

// GenArg converts a Go value into a memory value. Slices are written into a
// fresh segment and replaced by its base.
func (s *SegmentManager) GenArg(arg any) (MaybeRelocatable, error) {
	switch v := arg.(type) {
	case MaybeRelocatable:
		return v, nil
	case felt.Felt:
		return FromFelt(v), nil
	case Relocatable:
		return FromRelocatable(v), nil
	case uint64:
		return FromUint64(v), nil
	case int:
		return FromFelt(felt.FromInt64(int64(v))), nil
	case []felt.Felt:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return s.GenArg(items)
	case []MaybeRelocatable:
		base := s.AddSegment()
		if _, err := s.LoadData(base, v); err != nil {
			return MaybeRelocatable{}, err
		}
		return FromRelocatable(base), nil
	case []any:
		values := make([]MaybeRelocatable, 0, len(v))
		for _, item := range v {
			mv, err := s.GenArg(item)
			if err != nil {
				return MaybeRelocatable{}, err
			}
			values = append(values, mv)
		}
		return s.GenArg(values)
	}
	return MaybeRelocatable{}, fmt.Errorf("%w: cannot convert argument of type %T", ErrUnexpectedType, arg)
}

// ComputeEffectiveSizes snapshots the used size of every segment.
func (s *SegmentManager) ComputeEffectiveSizes() []uint64 {
	s.usedSizes = make([]uint64, s.Memory.NumSegments())
	copy(s.usedSizes, s.Memory.usedSizes)
	return s.usedSizes
}

// SegmentUsedSize returns the size computed by ComputeEffectiveSizes.
func (s *SegmentManager) SegmentUsedSize(index int) (uint64, error) {
	if s.usedSizes == nil {
		return 0, ErrSizesNotComputed
	}
	if index < 0 || index >= len(s.usedSizes) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSegment, index)
	}
	return s.usedSizes[index], nil
}

// SegmentSize is the finalized size, or the used size if not finalized.
func (s *SegmentManager) SegmentSize(index int) (uint64, error) {
	if size, ok := s.sizes[index]; ok {
		return size, nil
	}
	return s.SegmentUsedSize(index)
}

// Finalize fixes the size and public memory of a segment. A nil size keeps
// the used size.
func (s *SegmentManager) Finalize(index int, size *uint64, publicMemory []PublicMemoryEntry) {
	if size != nil {
		s.sizes[index] = *size
	}
	if publicMemory != nil {
		s.publicMemory[index] = publicMemory
	}
}

func (s *SegmentManager) PublicMemoryOffsets(index int) []PublicMemoryEntry {
	return s.publicMemory[index]
}

// RelocateSegments returns the flat base address of every segment. Flat
// memory starts at 1 and segments follow in creation order.
func (s *SegmentManager) RelocateSegments() ([]uint64, error) {
	if s.usedSizes == nil {
		return nil, ErrSizesNotComputed
	}
	n := s.Memory.NumSegments()
	table := make([]uint64, n)
	next := uint64(1)
	for i := 0; i < n; i++ {
		table[i] = next
		size, err := s.SegmentSize(i)
		if err != nil {
			return nil, err
		}
		next += size
	}
	return table, nil
}

// RelocateValue resolves a memory value against a relocation table.
func RelocateValue(v MaybeRelocatable, table []uint64) (felt.Felt, error) {
	r, ok := v.Relocatable()
	if !ok {
		f, _ := v.Felt()
		return f, nil
	}
	if r.Segment < 0 || r.Segment >= len(table) {
		return felt.Felt{}, fmt.Errorf("%w: cannot relocate %s", ErrUnknownSegment, r)
	}
	return felt.FromUint64(table[r.Segment] + r.Offset), nil
}

// RelocatedMemory is the flat memory image; nil entries are holes.
type RelocatedMemory []*felt.Felt

// RelocateMemory produces the flat memory image of the run.
func (s *SegmentManager) RelocateMemory() (RelocatedMemory, []uint64, error) {
	table, err := s.RelocateSegments()
	if err != nil {
		return nil, nil, err
	}
	var out RelocatedMemory
	err = s.Memory.ForEach(func(addr Relocatable, value MaybeRelocatable) error {
		size, err := s.SegmentSize(addr.Segment)
		if err != nil {
			return err
		}
		if addr.Offset >= size {
			return fmt.Errorf("%w: %s lies beyond the segment size %d", ErrOffsetOverflow, addr, size)
		}
		flat := table[addr.Segment] + addr.Offset
		v, err := RelocateValue(value, table)
		if err != nil {
			return err
		}
		for uint64(len(out)) <= flat {
			out = append(out, nil)
		}
		out[flat] = &v
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, table, nil
}

// MemoryHoles counts cells inside the used area of non-builtin segments that
// no instruction accessed. Builtin segments account for their own cells.
func (s *SegmentManager) MemoryHoles(builtinSegments map[int]bool) (uint64, error) {
	var holes uint64
	for i := 0; i < s.Memory.NumSegments(); i++ {
		if builtinSegments[i] {
			continue
		}
		used, err := s.SegmentUsedSize(i)
		if err != nil {
			return 0, err
		}
		accessed := s.Memory.AccessedCount(i)
		if accessed > used {
			return 0, fmt.Errorf("segment %d has %d accessed cells but only %d used", i, accessed, used)
		}
		holes += used - accessed
	}
	return holes, nil
}
