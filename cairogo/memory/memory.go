// Package memory holds the relocatable, write-once memory of a Cairo run and
// the segment manager that lays it out in flat memory after the run.
package memory

import (
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

// maxSegmentOffset bounds how far a single segment may grow.
const maxSegmentOffset = 1 << 32

// ValidationRule is installed per segment, typically by a builtin runner.
// It runs when a new cell of the segment is written and returns the addresses
// it validated. It may write further cells of the same memory.
type ValidationRule func(mem *Memory, addr Relocatable) ([]Relocatable, error)

type cell struct {
	value    MaybeRelocatable
	set      bool
	accessed bool
}

type Memory struct {
	segments  [][]cell
	usedSizes []uint64

	rules     map[int]ValidationRule
	validated map[Relocatable]struct{}

	frozen bool
}

func NewMemory() *Memory {
	return &Memory{
		rules:     make(map[int]ValidationRule),
		validated: make(map[Relocatable]struct{}),
	}
}

func (m *Memory) addSegment() int {
	m.segments = append(m.segments, nil)
	m.usedSizes = append(m.usedSizes, 0)
	return len(m.segments) - 1
}

func (m *Memory) NumSegments() int {
	return len(m.segments)
}

func (m *Memory) segment(index int) ([]cell, error) {
	if index < 0 || index >= len(m.segments) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSegment, index)
	}
	return m.segments[index], nil
}

// Get returns the value at addr, if any.
func (m *Memory) Get(addr Relocatable) (MaybeRelocatable, bool) {
	seg, err := m.segment(addr.Segment)
	if err != nil || addr.Offset >= uint64(len(seg)) {
		return MaybeRelocatable{}, false
	}
	c := seg[addr.Offset]
	return c.value, c.set
}

func (m *Memory) Read(addr Relocatable) (MaybeRelocatable, error) {
	v, ok := m.Get(addr)
	if !ok {
		return MaybeRelocatable{}, &UnknownCellError{Addr: addr}
	}
	return v, nil
}

func (m *Memory) ReadFelt(addr Relocatable) (felt.Felt, error) {
	v, err := m.Read(addr)
	if err != nil {
		return felt.Felt{}, err
	}
	f, ok := v.Felt()
	if !ok {
		return felt.Felt{}, fmt.Errorf("%w: expected a field element at %s, found %s", ErrUnexpectedType, addr, v)
	}
	return f, nil
}

func (m *Memory) ReadRelocatable(addr Relocatable) (Relocatable, error) {
	v, err := m.Read(addr)
	if err != nil {
		return Relocatable{}, err
	}
	r, ok := v.Relocatable()
	if !ok {
		return Relocatable{}, fmt.Errorf("%w: expected a relocatable at %s, found %s", ErrUnexpectedType, addr, v)
	}
	return r, nil
}

// ReadRange reads size consecutive cells starting at addr.
func (m *Memory) ReadRange(addr Relocatable, size uint64) ([]MaybeRelocatable, error) {
	out := make([]MaybeRelocatable, 0, size)
	for i := uint64(0); i < size; i++ {
		v, err := m.Read(addr.AddUint(i))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Write assigns value to addr. Cells are write-once: assigning the value a
// cell already holds is a no-op, assigning a different one fails.
func (m *Memory) Write(addr Relocatable, value MaybeRelocatable) error {
	if m.frozen {
		return fmt.Errorf("%w: cannot write %s to %s", ErrMemoryFrozen, value, addr)
	}
	if _, err := m.segment(addr.Segment); err != nil {
		return err
	}
	if addr.Offset >= maxSegmentOffset {
		return fmt.Errorf("%w: offset of %s", ErrOffsetOverflow, addr)
	}
	seg := m.grow(addr)
	c := &seg[addr.Offset]
	if c.set {
		if !c.value.Equal(value) {
			return &InconsistentMemoryError{Addr: addr, Old: c.value, New: value}
		}
		return nil
	}
	c.value = value
	c.set = true
	if addr.Offset+1 > m.usedSizes[addr.Segment] {
		m.usedSizes[addr.Segment] = addr.Offset + 1
	}
	return m.validate(addr)
}

func (m *Memory) grow(addr Relocatable) []cell {
	seg := m.segments[addr.Segment]
	if addr.Offset >= uint64(len(seg)) {
		if addr.Offset < uint64(cap(seg)) {
			seg = seg[:addr.Offset+1]
		} else {
			grown := make([]cell, addr.Offset+1, 2*(addr.Offset+1))
			copy(grown, seg)
			seg = grown
		}
		m.segments[addr.Segment] = seg
	}
	return seg
}

// AddValidationRule installs rule for all future writes into segment.
func (m *Memory) AddValidationRule(segment int, rule ValidationRule) {
	m.rules[segment] = rule
}

func (m *Memory) validate(addr Relocatable) error {
	rule, ok := m.rules[addr.Segment]
	if !ok {
		return nil
	}
	if _, ok := m.validated[addr]; ok {
		return nil
	}
	addrs, err := rule(m, addr)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		m.validated[a] = struct{}{}
	}
	return nil
}

// ValidateExistingMemory runs the validation rules over cells written
// before the rules were installed.
func (m *Memory) ValidateExistingMemory() error {
	for i := range m.segments {
		if _, ok := m.rules[i]; !ok {
			continue
		}
		for off := range m.segments[i] {
			if !m.segments[i][off].set {
				continue
			}
			if err := m.validate(NewRelocatable(i, uint64(off))); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Memory) Freeze() { m.frozen = true }

func (m *Memory) Frozen() bool { return m.frozen }

// MarkAccessed records that an instruction touched addr.
func (m *Memory) MarkAccessed(addr Relocatable) {
	if _, err := m.segment(addr.Segment); err != nil || addr.Offset >= maxSegmentOffset {
		return
	}
	seg := m.grow(addr)
	seg[addr.Offset].accessed = true
}

// AccessedCount counts the accessed, assigned cells of a segment.
func (m *Memory) AccessedCount(segment int) uint64 {
	seg, err := m.segment(segment)
	if err != nil {
		return 0
	}
	var n uint64
	for _, c := range seg {
		if c.set && c.accessed {
			n++
		}
	}
	return n
}

// UsedSize is the highest written offset of the segment plus one.
func (m *Memory) UsedSize(segment int) (uint64, error) {
	if _, err := m.segment(segment); err != nil {
		return 0, err
	}
	return m.usedSizes[segment], nil
}

// ForEach visits assigned cells in (segment, offset) order.
func (m *Memory) ForEach(fn func(addr Relocatable, value MaybeRelocatable) error) error {
	for i, seg := range m.segments {
		for off, c := range seg {
			if !c.set {
				continue
			}
			if err := fn(NewRelocatable(i, uint64(off)), c.value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len counts assigned cells.
func (m *Memory) Len() int {
	n := 0
	for _, seg := range m.segments {
		for _, c := range seg {
			if c.set {
				n++
			}
		}
	}
	return n
}

// Offsets lists the assigned offsets of a segment in increasing order.
func (m *Memory) Offsets(segment int) []uint64 {
	seg, err := m.segment(segment)
	if err != nil {
		return nil
	}
	var out []uint64
	for off, c := range seg {
		if c.set {
			out = append(out, uint64(off))
		}
	}
	return out
}
