package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for operations on a session that is not live.
	ErrNotFound = errors.New("session not found")
	// ErrCorruptRecord marks a durable record that could not be decoded.
	ErrCorruptRecord = errors.New("corrupt session record")
	// ErrInvalidUserID is returned for user ids that are not path-safe.
	ErrInvalidUserID = errors.New("invalid user id")
)

// PersistenceError reports a failed durable store operation.
type PersistenceError struct {
	Op     string
	UserID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session %s for user %s: %v", e.Op, e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
