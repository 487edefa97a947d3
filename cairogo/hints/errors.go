package hints

import "errors"

var (
	ErrUnknownHint       = errors.New("unknown hint")
	ErrUnknownVariable   = errors.New("unknown scope variable")
	ErrExitMainScope     = errors.New("cannot exit the main scope")
	ErrScopeNotExited    = errors.New("scopes were not exited")
	ErrUnknownID         = errors.New("unknown identifier in hint")
	ErrNotAddressable    = errors.New("reference has no address")
	ErrAPTrackingGroup   = errors.New("ap tracking group mismatch")
	ErrValueOutOfRange   = errors.New("value is out of range")
	ErrMissingBuiltin    = errors.New("builtin is not in use")
	ErrUnexpectedIDValue = errors.New("unexpected identifier value type")
)
