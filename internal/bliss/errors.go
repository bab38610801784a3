package bliss

import (
	"errors"
	"fmt"
)

// ErrUnexpectedPayload marks a sync payload that does not match the shapes
// captured from the vendor app. Parsing stops instead of guessing.
var ErrUnexpectedPayload = errors.New("unexpected bliss payload shape")

// ErrNotConnected is returned when an operation needs an established sync
// session and none could be set up.
var ErrNotConnected = errors.New("bliss sync session not connected")

// AuthError indicates the account service rejected the configured
// credentials. It is not retryable until new credentials arrive.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("bliss authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err carries a credential rejection.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// CommandError indicates a setter operation was sent but never acknowledged,
// or could not be sent at all. Local state is left untouched by the caller.
type CommandError struct {
	Serial string
	Op     string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("bliss command %s for %s failed: %v", e.Op, e.Serial, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
