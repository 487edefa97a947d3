package builtins

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownBuiltin             = errors.New("unknown builtin")
	ErrUnsupportedBuiltin         = errors.New("unsupported builtin")
	ErrBuiltinOrder               = errors.New("builtins are not in the expected order")
	ErrInvalidStopPointer         = errors.New("invalid stop pointer")
	ErrInsufficientAllocatedCells = errors.New("insufficient allocated cells")
	ErrMinStepNotReached          = errors.New("minimal number of steps not reached")
	ErrSecurity                   = errors.New("builtin security check failed")
	ErrRangeCheckOutOfBounds      = errors.New("range check value out of bounds")
	ErrNotFelt                    = errors.New("builtin cell does not hold a field element")
	ErrInputTooLarge              = errors.New("builtin input exceeds its bit bound")
	ErrMissingSignature           = errors.New("signature hint is missing")
	ErrInvalidSignature           = errors.New("signature is invalid")
	ErrModBound                   = errors.New("modular builtin value out of bounds")
	ErrModFill                    = errors.New("could not fill the values table")
	ErrInverseUnsupportedForBatch = errors.New("non-invertible division requires batch_size 1")
)

// InsufficientAllocatedCellsError reports a builtin that used more cells
// than the run allocated to it.
type InsufficientAllocatedCellsError struct {
	Builtin   Name
	Used      uint64
	Allocated uint64
}

func (e *InsufficientAllocatedCellsError) Error() string {
	return fmt.Sprintf("%s: used %d cells out of %d allocated", e.Builtin, e.Used, e.Allocated)
}

func (e *InsufficientAllocatedCellsError) Unwrap() error { return ErrInsufficientAllocatedCells }

// SecurityError reports an under-constrained builtin segment.
type SecurityError struct {
	Builtin Name
	Reason  string
	// Offsets of the offending cells, if any.
	Offsets []uint64
}

func (e *SecurityError) Error() string {
	if len(e.Offsets) == 0 {
		return fmt.Sprintf("%s builtin: %s", e.Builtin, e.Reason)
	}
	return fmt.Sprintf("%s builtin: %s at offsets %v", e.Builtin, e.Reason, e.Offsets)
}

func (e *SecurityError) Unwrap() error { return ErrSecurity }
