package storage

import (
	"errors"
	"fmt"
)

// ErrEmptyBundle means there was nothing to persist. Callers treat it as a
// skipped capture, not a success: no artifacts exist and no baselines move.
var ErrEmptyBundle = errors.New("bundle has no frames")

// StorageError wraps filesystem and encoding failures with the operation
// and path that failed.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
