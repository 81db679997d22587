package scheduler

import "errors"

// Sentinel errors for scheduler operations.
var (
	ErrUnknownTask       = errors.New("unknown task")
	ErrInvalidTransition = errors.New("invalid task state transition")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrDuplicateID       = errors.New("duplicate task id")
	ErrAlreadyLeased     = errors.New("task already leased")
)
