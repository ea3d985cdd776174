package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrClaimConflict means another worker already claimed the item. Benign:
	// the dispatcher skips the item silently.
	ErrClaimConflict = errors.New("queue item already claimed")

	// ErrItemNotFound means no queue item exists with the given id.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrItemTerminal means the requested transition targets an item already
	// in a terminal state (succeeded, failed or cancelled).
	ErrItemTerminal = errors.New("queue item is in a terminal state")

	// ErrEntityNotFound means no atividade exists with the given id.
	ErrEntityNotFound = errors.New("atividade not found")
)

// ValidationError rejects bad enqueue arguments synchronously; nothing is
// ever enqueued when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
