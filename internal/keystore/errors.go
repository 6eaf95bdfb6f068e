package keystore

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of storage failure
type ErrorType int

const (
	// ErrTypeMount indicates the filesystem could not be mounted
	ErrTypeMount ErrorType = iota
	// ErrTypeList indicates the key directory could not be listed
	ErrTypeList
	// ErrTypeDelete indicates an old value could not be removed
	ErrTypeDelete
	// ErrTypeCreate indicates the new value entry could not be created
	ErrTypeCreate
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeMount:
		return "Mount Error"
	case ErrTypeList:
		return "List Error"
	case ErrTypeDelete:
		return "Delete Error"
	case ErrTypeCreate:
		return "Create Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// StorageError is returned by Store operations. The repository layer above
// logs it and degrades the value to "unset"; it never reaches HTTP handlers.
type StorageError struct {
	Type ErrorType // Category of failure
	Key  ConfigKey // Key being operated on
	Path string    // Entry path involved, if any
	Err  error     // Underlying filesystem error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	target := e.Key.String()
	if e.Path != "" {
		target = e.Path
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, target, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, target)
}

// Unwrap returns the underlying error for error chain inspection
func (e *StorageError) Unwrap() error {
	return e.Err
}

func newStorageError(t ErrorType, key ConfigKey, path string, err error) *StorageError {
	return &StorageError{Type: t, Key: key, Path: path, Err: err}
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsMountError reports whether err is a mount failure.
func IsMountError(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Type == ErrTypeMount
}
