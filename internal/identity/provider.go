// Package identity talks to the OAuth2/OIDC identity provider: it starts
// device-authorization sessions, waits for user completion, and performs
// silent per-audience token acquisition against the resulting account.
package identity

import (
	"context"
	"time"

	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/models"
)

//go:generate mockgen -source=provider.go -destination=mock_provider.go -package=identity

// DeviceCode holds the user-facing half of a device-authorization session.
type DeviceCode struct {
	// DeviceCode is the opaque code the client polls the provider with.
	DeviceCode string

	// UserCode is the short code the user types on the secondary device.
	UserCode string

	// VerificationURI is where the user enters the code.
	VerificationURI string

	// ExpiresAt is when the provider stops accepting this session.
	ExpiresAt time.Time

	// Interval is the provider's minimum polling interval.
	Interval time.Duration
}

// Completion is the outcome of a finished device flow: the signed-in
// account plus the grant used for subsequent silent acquisition. The
// grant never leaves process memory.
type Completion struct {
	Account models.Account
	Grant   string
}

// Provider is the identity-provider surface the broker consumes.
type Provider interface {
	// RequestDeviceCode starts a device-authorization session.
	RequestDeviceCode(ctx context.Context) (*DeviceCode, error)

	// WaitForCompletion blocks until the user finishes (or the provider
	// rejects) the session, polling at the provider's interval.
	WaitForCompletion(ctx context.Context, dc *DeviceCode) (*Completion, error)

	// AcquireTokenSilent obtains a bearer token for one audience using
	// the grant from a completed device flow. No user interaction.
	AcquireTokenSilent(ctx context.Context, grant string, audience models.Audience) (string, error)
}
