package storage

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned when a conditional write lost to a concurrent one,
	// for example claiming an activity that is no longer pending.
	ErrConflict = errors.New("storage: conflict")
)
