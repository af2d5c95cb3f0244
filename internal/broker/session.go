package broker

import (
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/identity"
)

// SessionState tracks a device-authorization session through its lifecycle.
type SessionState int

const (
	// StateIdle means no session exists.
	StateIdle SessionState = iota

	// StateDeviceCodeIssued means the provider delivered a device code
	// but polling has not started.
	StateDeviceCodeIssued

	// StateAwaitingCompletion means the background poller is waiting for
	// the user to finish consent.
	StateAwaitingCompletion

	// StateCompleted means the provider confirmed consent.
	StateCompleted

	// StateFailed means the provider rejected the session.
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDeviceCodeIssued:
		return "device-code-issued"
	case StateAwaitingCompletion:
		return "awaiting-completion"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// completionResult is the single value delivered on a session's done
// channel: either a completed flow or the provider's failure.
type completionResult struct {
	completion *identity.Completion
	err        error
}

// authSession is the ephemeral in-memory device-flow session. At most one
// exists per broker; it is owned exclusively by the broker and cleared
// once a caller has observed a terminal state. Completion arrives on the
// buffered done channel, resolved exactly once by the background poller.
type authSession struct {
	state      SessionState
	deviceCode *identity.DeviceCode
	done       chan completionResult
}

func newAuthSession(dc *identity.DeviceCode) *authSession {
	return &authSession{
		state:      StateDeviceCodeIssued,
		deviceCode: dc,
		done:       make(chan completionResult, 1),
	}
}

// poll returns the completion result without blocking. The second return
// is false while the flow is still pending.
func (s *authSession) poll() (completionResult, bool) {
	select {
	case res := <-s.done:
		return res, true
	default:
		return completionResult{}, false
	}
}
