package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no vault directory is active.
	ErrNotConfigured = errors.New("vault not configured")
	// ErrInvalidHandle is returned when the stored handle cannot be used for writing.
	ErrInvalidHandle = errors.New("vault handle is invalid, please select the vault again")
	// ErrPermissionDenied is returned when the user declines write access.
	ErrPermissionDenied = errors.New("vault write permission denied")
	// ErrNotFound is returned when the vault directory no longer exists.
	ErrNotFound = errors.New("vault directory not found, please select it again")
	// ErrWriteFailed classifies every failure while writing a file into the vault.
	ErrWriteFailed = errors.New("vault write failed")
)

// WriteError reports which vault-relative path a write failed for.
type WriteError struct {
	Path string // vault-relative path being written
	Op   string // "mkdir", "create", "write" or "close"
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write '%s' (%s): %v", e.Path, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

func (e *WriteError) Is(target error) bool {
	return target == ErrWriteFailed
}
