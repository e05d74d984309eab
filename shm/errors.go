package shm

import "errors"

var (
	// ErrResource reports that a backing store could not be created or
	// opened.
	ErrResource = errors.New("shm: resource unavailable")

	// ErrLayout reports that a region does not have the size or event
	// layout the caller expects.
	ErrLayout = errors.New("shm: layout mismatch")

	// ErrTimeout is returned by Wait when the bound elapses before the
	// event is signaled.
	ErrTimeout = errors.New("shm: wait timed out")
)
