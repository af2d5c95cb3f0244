package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/models"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/usdmerrors"
)

// ProviderError is returned by QueryFunc implementations when the
// analytical service answers with an error status. Body, when present,
// is the raw response payload.
type ProviderError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("provider returned %d", e.StatusCode)
}

// ErrorKind classifies a failed query.
type ErrorKind int

const (
	// KindTokenUnavailable: the needed audience token was absent or
	// expired locally. No network call was made.
	KindTokenUnavailable ErrorKind = iota

	// KindTokenExpired: the provider rejected the token (401). The local
	// copy is invalidated; a refresh re-acquires it.
	KindTokenExpired

	// KindThrottled: the provider throttled the query (429) despite the
	// concurrency ceiling.
	KindThrottled

	// KindQueryFailed: any other provider rejection, surfaced verbatim
	// with remediation hints.
	KindQueryFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTokenUnavailable:
		return "token-unavailable"
	case KindTokenExpired:
		return "token-expired"
	case KindThrottled:
		return "throttled"
	case KindQueryFailed:
		return "query-failed"
	default:
		return "unknown"
	}
}

// QueryError is the structured failure a Run caller receives. It carries
// enough context to distinguish "not authenticated" from "provider
// rejected the query" from "transient throttling".
type QueryError struct {
	Kind       ErrorKind
	Category   string
	Audience   models.Audience
	StatusCode int
	Message    string
	Hint       string

	err error
}

func (e *QueryError) Error() string {
	msg := fmt.Sprintf("query in category %q failed (%s): %s", e.Category, e.Kind, e.Message)
	if e.Hint != "" {
		msg += "\n" + e.Hint
	}

	return msg
}

func (e *QueryError) Unwrap() error { return e.err }

// newTokenUnavailableError builds the local precondition failure for a
// missing or expired credential.
func newTokenUnavailableError(category string, cred *models.Credential) *QueryError {
	aud := models.Audience("")
	if cred != nil {
		aud = cred.Audience
	}

	return &QueryError{
		Kind:     KindTokenUnavailable,
		Category: category,
		Audience: aud,
		Message:  "no valid token for this audience; sign in or refresh first",
		err:      usdmerrors.ErrTokenUnavailable,
	}
}

// classify maps a queryFn failure onto the error taxonomy. Provider
// messages pass through verbatim; the hint layer adds static suggestions
// for common mistakes without touching the taxonomy itself.
func classify(category string, aud models.Audience, err error) *QueryError {
	qerr := &QueryError{
		Kind:     KindQueryFailed,
		Category: category,
		Audience: aud,
		Message:  err.Error(),
		err:      err,
	}

	var pe *ProviderError
	if !errors.As(err, &pe) {
		qerr.Hint = hintFor(qerr.Message)
		return qerr
	}

	qerr.StatusCode = pe.StatusCode
	qerr.Message = providerDetail(pe)

	switch pe.StatusCode {
	case http.StatusUnauthorized:
		qerr.Kind = KindTokenExpired
	case http.StatusTooManyRequests:
		qerr.Kind = KindThrottled
	}

	if qerr.Kind == KindQueryFailed {
		qerr.Hint = hintFor(qerr.Message)
	}

	return qerr
}

// providerDetail extracts the human-readable message from a provider
// error body, falling back to the bare message or status.
func providerDetail(pe *ProviderError) string {
	if len(pe.Body) > 0 && gjson.ValidBytes(pe.Body) {
		for _, path := range []string{"error.message", "error.pbi\\.error.details.0.detail.value", "message", "error"} {
			if v := gjson.GetBytes(pe.Body, path); v.Exists() && v.Str != "" {
				return v.Str
			}
		}
	}

	return pe.Error()
}
