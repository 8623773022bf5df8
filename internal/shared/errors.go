package shared

import (
	"errors"
	"fmt"
)

// Error kinds shared by every workflow package. Callers wrap them with
// context using %w and compare with errors.Is.
var (
	// ErrValidation indicates malformed or incomplete input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrNotAuthorized indicates the actor holds the wrong role for the operation.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidState indicates the entity is not in a status that permits the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrSequenceConflict indicates document number allocation lost every retry.
	ErrSequenceConflict = errors.New("sequence conflict")
	// ErrAlreadyExists indicates a uniqueness collision such as a duplicate revision.
	ErrAlreadyExists = errors.New("already exists")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// NotAuthorizedf wraps ErrNotAuthorized with a formatted message.
func NotAuthorizedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotAuthorized, fmt.Sprintf(format, args...))
}

// InvalidStatef wraps ErrInvalidState with a formatted message.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Kind returns the sentinel an error wraps, or nil for unclassified errors.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrNotAuthorized, ErrInvalidState, ErrSequenceConflict, ErrAlreadyExists} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
