package errors

import (
	"errors"
	"fmt"
)

// Common error types for the AuthForge client.
// Each one is a local failure: no network call is made when it is returned.
var (
	// Session errors
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNoPendingChallenge  = errors.New("no two-factor challenge is pending")
	ErrNoPendingEnrollment = errors.New("two-factor setup has not been started")

	// Validation errors
	ErrInvalidCode     = errors.New("code must be exactly 6 characters")
	ErrInvalidCallback = errors.New("invalid sign-in callback parameters")
	ErrMissingToken    = errors.New("sign-in response did not include an access token")

	// Authorization errors
	ErrForbidden = errors.New("admin role required")

	// Flow errors
	ErrBusy        = errors.New("another request is already in progress")
	ErrInvalidView = errors.New("view not available in the current state")

	// Storage errors
	ErrStorage = errors.New("session storage failure")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
