package settings

import (
	"errors"
	"fmt"
)

// ErrCorruptConfig is returned by Load when the persisted settings file
// exists but cannot be parsed. The store falls back to defaults in memory
// and leaves the file untouched.
var ErrCorruptConfig = errors.New("corrupt settings file")

// PersistenceError reports a failed write of the settings file.
// The in-memory tree already holds the new state when this is returned.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting settings to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError rejects a value that does not fit a known setting.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Key, e.Reason)
}
