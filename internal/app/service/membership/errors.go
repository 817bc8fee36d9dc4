package membership

import "errors"

var (
	ErrNotFound        = errors.New("membership not found")
	ErrConflict        = errors.New("membership already exists")
	ErrInvalidTier     = errors.New("invalid tier")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrState is returned when the record's status does not allow the transition.
	ErrState = errors.New("membership state does not allow this operation")
	// ErrConcurrency means the record changed between read and write. Callers may retry.
	ErrConcurrency = errors.New("membership was modified concurrently")
)
