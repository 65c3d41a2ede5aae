package service

import (
	"errors"
	"fmt"

	"studio-sync/internal/statecodec"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict: retry budget exhausted")
	ErrTransport       = errors.New("storage transport failure")

	// ErrDecode marks stored bytes that are not a valid document.
	ErrDecode = statecodec.ErrMalformed
)

// ConflictError is returned when every conditional write attempt lost the
// race for the document's revision.
type ConflictError struct {
	Key      string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict detected on %s after %d attempts", e.Key, e.Attempts)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
