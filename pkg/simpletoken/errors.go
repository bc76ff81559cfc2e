package simpletoken

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrValidation indicates a malformed or incomplete request
	ErrValidation = errors.New("validation error")

	// ErrForbidden indicates the caller may not perform the operation
	ErrForbidden = errors.New("forbidden")

	// ErrTokenNotFound indicates a token was not found
	ErrTokenNotFound = errors.New("token not found")

	// ErrConflictingState indicates the stored status no longer satisfies the
	// operation's precondition, including races lost to a concurrent transition
	ErrConflictingState = errors.New("conflicting token state")

	// ErrInvalidTransition indicates the requested transition is not allowed
	// from the token's current status
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrConflictingState)

	// ErrSigningFailure indicates a token could not be signed from the given input
	ErrSigningFailure = errors.New("signing failure")

	// ErrTokenExists indicates a token with the same external id already exists
	ErrTokenExists = errors.New("token already exists")
)

// TokenError represents an error related to a token operation
type TokenError struct {
	ID  int64
	Op  string
	Err error
}

func (e *TokenError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("token operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("token operation %s failed for token %d: %v", e.Op, e.ID, e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

func validationf(format string, args ...any) error {
	return errorf(ErrValidation, format, args...)
}

func errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
