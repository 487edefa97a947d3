package memory

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

var (
	ErrCrossSegment   = errors.New("relocatable values are in different segments")
	ErrOffsetOverflow = errors.New("relocatable offset out of range")
)

// Relocatable is a symbolic address: an offset into a segment whose final
// position in flat memory is only known after relocation.
type Relocatable struct {
	Segment int    `json:"segment_index"`
	Offset  uint64 `json:"offset"`
}

func NewRelocatable(segment int, offset uint64) Relocatable {
	return Relocatable{Segment: segment, Offset: offset}
}

func (r Relocatable) String() string {
	return fmt.Sprintf("%d:%d", r.Segment, r.Offset)
}

func (r Relocatable) AddUint(v uint64) Relocatable {
	return Relocatable{Segment: r.Segment, Offset: r.Offset + v}
}

// AddInt adds a signed offset; moving before the segment start fails.
func (r Relocatable) AddInt(v int) (Relocatable, error) {
	if v < 0 && uint64(-v) > r.Offset {
		return Relocatable{}, fmt.Errorf("%w: %s + %d", ErrOffsetOverflow, r, v)
	}
	return Relocatable{Segment: r.Segment, Offset: uint64(int64(r.Offset) + int64(v))}, nil
}

// AddFelt adds a field element to the offset modulo the prime, so adding
// P-1 moves one cell back.
func (r Relocatable) AddFelt(v felt.Felt) (Relocatable, error) {
	off, ok := felt.FromUint64(r.Offset).Add(v).Uint64()
	if !ok {
		return Relocatable{}, fmt.Errorf("%w: %s + %s", ErrOffsetOverflow, r, v)
	}
	return Relocatable{Segment: r.Segment, Offset: off}, nil
}

// Sub returns the distance between two addresses of the same segment.
func (r Relocatable) Sub(o Relocatable) (felt.Felt, error) {
	if r.Segment != o.Segment {
		return felt.Felt{}, fmt.Errorf("%w: %s - %s", ErrCrossSegment, r, o)
	}
	if r.Offset >= o.Offset {
		return felt.FromUint64(r.Offset - o.Offset), nil
	}
	return felt.FromUint64(o.Offset - r.Offset).Neg(), nil
}

func (r Relocatable) SubUint(v uint64) (Relocatable, error) {
	if v > r.Offset {
		return Relocatable{}, fmt.Errorf("%w: %s - %d", ErrOffsetOverflow, r, v)
	}
	return Relocatable{Segment: r.Segment, Offset: r.Offset - v}, nil
}

// Cmp orders addresses within one segment.
func (r Relocatable) Cmp(o Relocatable) (int, error) {
	if r.Segment != o.Segment {
		return 0, fmt.Errorf("%w: cannot compare %s and %s", ErrCrossSegment, r, o)
	}
	switch {
	case r.Offset < o.Offset:
		return -1, nil
	case r.Offset > o.Offset:
		return 1, nil
	}
	return 0, nil
}
