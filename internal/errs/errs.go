package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced occurrence, registration or member does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRegistered is returned when the member already holds an active registration.
	ErrAlreadyRegistered = errors.New("already registered for this occurrence")

	// ErrCapacityExceeded is returned when the occurrence is full and has no waiting list.
	ErrCapacityExceeded = errors.New("occurrence is fully booked")
)

// NotFound wraps ErrNotFound with the kind and id of the missing record.
func NotFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}

// ValidationError reports malformed input: a bad recurrence rule, a
// non-numeric operand for an ordering operator, a missing end date.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// EligibilityError carries every reason a member may not register.
type EligibilityError struct {
	Reasons []string
}

func (e *EligibilityError) Error() string {
	return "not eligible: " + strings.Join(e.Reasons, "; ")
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
