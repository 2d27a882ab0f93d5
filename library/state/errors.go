package state

import (
	"errors"
	"fmt"
)

var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrInvalidState        = errors.New("state is no longer valid")
	ErrImmutableField      = errors.New("field is immutable")
	ErrFieldAlreadySet     = errors.New("field can only be set once")
	ErrMissingField        = errors.New("missing required field")
	ErrWrongType           = errors.New("field does not belong to entity type")
	ErrUnknownType         = errors.New("unknown state type")
	ErrNotInitialized      = errors.New("store is not initialized")
	ErrAlreadyInitialized  = errors.New("store is already initialized")

	// ErrCorruptData marks persisted data that could not be decoded.
	ErrCorruptData = errors.New("persisted data is corrupt")
	// ErrStorageUnavailable marks a backend that could not be reached.
	ErrStorageUnavailable = errors.New("storage is unavailable")
)

// StorageError describes a failed storage operation.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
