// Package models defines types shared across internal packages.
package models

import "time"

// Audience identifies a downstream resource that issues its own tokens.
type Audience string

// The three fixed audiences a sign-in acquires tokens for, in acquisition order.
const (
	AudienceProfile         Audience = "profile"
	AudienceBackendAPI      Audience = "backend-api"
	AudienceAnalyticsEngine Audience = "analytics-engine"
)

// Audiences is the canonical acquisition order. The broker walks this slice
// in order; a failed grant for one audience does not stop the next.
var Audiences = []Audience{AudienceProfile, AudienceBackendAPI, AudienceAnalyticsEngine}

// Account holds identity metadata for the signed-in user. Populated once any
// audience token has been acquired.
type Account struct {
	Username       string `json:"username"`
	TenantID       string `json:"tenantId"`
	HomeAccountID  string `json:"homeAccountId"`
	Environment    string `json:"environment"`
	LocalAccountID string `json:"localAccountId"`
	Name           string `json:"name"`
}

// BundleMetadata records the request parameters a cached bundle was
// acquired under, plus the cache format version.
type BundleMetadata struct {
	Tenant       string   `json:"tenant"`
	Client       string   `json:"client"`
	Scopes       []string `json:"scopes"`
	CacheVersion string   `json:"cacheVersion"`
}

// CacheVersion is written into every persisted bundle. Bumping it
// invalidates all existing cache entries on load.
const CacheVersion = "1.0"

// CredentialBundle is the unit of cached authentication state: up to one
// bearer token per audience plus the account identity. Timestamp and Expiry
// are epoch milliseconds; the window between them is the cache lifetime,
// which is deliberately decoupled from the provider's own token expiry.
type CredentialBundle struct {
	Tokens    map[Audience]string `json:"tokens"`
	Account   *Account            `json:"account"`
	Timestamp int64               `json:"timestamp"`
	Expiry    int64               `json:"expiry"`
	Metadata  BundleMetadata      `json:"metadata"`
}

// HasToken reports whether a non-empty token is present for the audience.
func (b *CredentialBundle) HasToken(aud Audience) bool {
	if b == nil {
		return false
	}
	return b.Tokens[aud] != ""
}

// Token returns the bearer token for the audience, or empty string.
func (b *CredentialBundle) Token(aud Audience) string {
	if b == nil {
		return ""
	}
	return b.Tokens[aud]
}

// Expired reports whether the bundle's cache window has elapsed at now.
func (b *CredentialBundle) Expired(now time.Time) bool {
	if b == nil {
		return true
	}
	return now.UnixMilli() > b.Expiry
}

// Credential is the unit handed to the query gateway: one audience's
// bearer token plus the cache-window expiry of the bundle it came from.
type Credential struct {
	Audience Audience
	Token    string
	Expiry   int64 // epoch milliseconds
}

// Valid reports whether the credential carries a token whose cache
// window has not elapsed at now.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.Token != "" && now.UnixMilli() <= c.Expiry
}

// Availability returns the per-audience token presence flags in
// acquisition order. Used by status reporting; never exposes token values.
func (b *CredentialBundle) Availability() map[Audience]bool {
	out := make(map[Audience]bool, len(Audiences))
	for _, aud := range Audiences {
		out[aud] = b.HasToken(aud)
	}
	return out
}
