package vm

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

var (
	ErrAssertionFailure          = errors.New("assertion failed")
	ErrOutOfResources            = errors.New("out of resources")
	ErrInvalidJnz                = errors.New("invalid jnz")
	ErrUnknownOperand            = errors.New("could not compute operand")
	ErrInvalidRes                = errors.New("invalid res")
	ErrInvalidCall               = errors.New("call failed to write its frame")
	ErrHint                      = errors.New("hint failed")
	ErrInconsistentAutoDeduction = errors.New("inconsistent auto-deduction")
	ErrRunFinished               = errors.New("run already finished")
)

// VMException is a failure at a given pc. Location, if set, is the source
// location of the instruction.
type VMException struct {
	PC       memory.Relocatable
	Err      error
	Location string
}

func (e *VMException) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("error at pc=%s (%s): %v", e.PC, e.Location, e.Err)
	}
	return fmt.Sprintf("error at pc=%s: %v", e.PC, e.Err)
}

func (e *VMException) Unwrap() error { return e.Err }

// AssertionError carries the values of a failed assert_eq.
type AssertionError struct {
	Dst memory.MaybeRelocatable
	Res memory.MaybeRelocatable
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("an ASSERT_EQ instruction failed: %s != %s", e.Dst, e.Res)
}

func (e *AssertionError) Unwrap() error { return ErrAssertionFailure }
