package ticket

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a ticket id does not exist, or when ClaimNext
// finds no claimable ticket. The latter is an expected condition, not a fault:
// callers use errors.Is to drive their idle-sleep path.
var ErrNotFound = errors.New("ticket not found")

// ErrInvalidState is returned when an operation is illegal for the ticket's
// current status, such as completing an already-done ticket.
var ErrInvalidState = errors.New("invalid ticket state")

// ValidationError reports a rejected input: a bad reference, an unknown enum
// value, or a blocking edge that would introduce a cycle. Validation errors
// are never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
