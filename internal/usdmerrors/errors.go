// Package usdmerrors defines the error taxonomy shared by the credential
// broker and the query gateway. Public broker/gateway operations return
// structured results; these sentinels and wrappers classify the failure
// modes callers are expected to branch on.
package usdmerrors

import "errors"

// Broker errors.
var (
	// ErrNoSessionInProgress is returned by CheckSignIn when no SignIn
	// started a device-code session.
	ErrNoSessionInProgress = errors.New("no sign-in session in progress")

	// ErrDeviceCodeTimeout means the identity provider did not deliver a
	// device code within the local wait bound. The caller should retry.
	ErrDeviceCodeTimeout = errors.New("timed out waiting for device code")

	// ErrAuthenticationFailed means the provider reported failure
	// completing the device flow. The session is cleared; the caller must
	// restart sign-in.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotAuthenticated means an operation needing a completed sign-in
	// (refresh, queries) was called without one.
	ErrNotAuthenticated = errors.New("not signed in")

	// ErrNoRefreshGrant means the caller is authenticated from the
	// credential cache, which carries no refresh grant, so silent
	// re-acquisition needs a device sign-in in this process first.
	ErrNoRefreshGrant = errors.New("silent refresh requires a device sign-in in this process")
)

// Gateway errors.
var (
	// ErrTokenUnavailable means the audience token needed for a query is
	// absent or expired. No network call was made.
	ErrTokenUnavailable = errors.New("required audience token unavailable")
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
