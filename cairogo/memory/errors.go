package memory

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCell        = errors.New("unknown memory cell")
	ErrInconsistentMemory = errors.New("inconsistent memory assignment")
	ErrUnknownSegment     = errors.New("unknown segment")
	ErrMemoryFrozen       = errors.New("memory is frozen")
	ErrUnexpectedType     = errors.New("unexpected memory value type")
	ErrSizesNotComputed   = errors.New("segment sizes were not computed")
)

// UnknownCellError is returned when reading a cell that was never written.
type UnknownCellError struct {
	Addr Relocatable
}

func (e *UnknownCellError) Error() string {
	return fmt.Sprintf("unknown value for memory cell at address %s", e.Addr)
}

func (e *UnknownCellError) Unwrap() error { return ErrUnknownCell }

// InconsistentMemoryError is returned when a cell is assigned a second,
// different value.
type InconsistentMemoryError struct {
	Addr Relocatable
	Old  MaybeRelocatable
	New  MaybeRelocatable
}

func (e *InconsistentMemoryError) Error() string {
	return fmt.Sprintf("inconsistent memory assignment at address %s. %s != %s", e.Addr, e.Old, e.New)
}

func (e *InconsistentMemoryError) Unwrap() error { return ErrInconsistentMemory }
