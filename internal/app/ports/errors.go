package ports

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrAlreadyRecorded signals a duplicate event append. Callers treat
	// it as success: the event is durable, just not newly written.
	ErrAlreadyRecorded = errors.New("event already recorded")
)
