package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecord is returned when a persisted record violates its state invariants.
	ErrInvalidRecord = errors.New("invalid reconciliation record")

	// ErrHandoffNotFound is returned when no parent session was handed off.
	ErrHandoffNotFound = errors.New("no handoff session")
)

// AuthOutcome classifies why the Credential Gate did not yield a session.
type AuthOutcome int

const (
	// AuthUnavailable means credentials were not supplied. It is the supported offline path.
	AuthUnavailable AuthOutcome = iota
	AuthInvalidCredentials
	AuthServerError
	AuthNetworkError
)

func (o AuthOutcome) String() string {
	switch o {
	case AuthUnavailable:
		return "unavailable"
	case AuthInvalidCredentials:
		return "invalid_credentials"
	case AuthServerError:
		return "server_error"
	case AuthNetworkError:
		return "network_error"
	default:
		return fmt.Sprintf("auth_outcome(%d)", int(o))
	}
}

// Deferrable reports whether the outcome should defer the claim rather than fail it.
func (o AuthOutcome) Deferrable() bool {
	return o == AuthUnavailable || o == AuthNetworkError
}

// AuthError is the only error type the Credential Gate returns.
type AuthError struct {
	Outcome    AuthOutcome
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("authentication %s (%d): %s", e.Outcome, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("authentication %s (%d)", e.Outcome, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("authentication %s: %v", e.Outcome, e.Err)
	case e.Message != "":
		return fmt.Sprintf("authentication %s: %s", e.Outcome, e.Message)
	default:
		return fmt.Sprintf("authentication %s", e.Outcome)
	}
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// AuthOutcomeOf extracts the outcome from err. Errors that are not AuthErrors are
// treated as network failures so that callers always have a typed outcome.
func AuthOutcomeOf(err error) AuthOutcome {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Outcome
	}
	return AuthNetworkError
}

// PersistenceError reports a local filesystem failure. It is fatal to the current attempt.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var persistenceErr *PersistenceError
	return errors.As(err, &persistenceErr)
}

// UserError is the single (title, detail) pair shown to the person provisioning the device.
type UserError struct {
	Title  string
	Detail string
	Err    error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

func (e *UserError) Unwrap() error {
	return e.Err
}
