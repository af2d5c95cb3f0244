package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBundleTokenLookup(t *testing.T) {
	bundle := &CredentialBundle{
		Tokens: map[Audience]string{
			AudienceProfile:    "profile-token",
			AudienceBackendAPI: "backend-token",
		},
	}

	assert.True(t, bundle.HasToken(AudienceProfile))
	assert.False(t, bundle.HasToken(AudienceAnalyticsEngine))

	assert.Equal(t, "backend-token", bundle.Token(AudienceBackendAPI))
	assert.Empty(t, bundle.Token(AudienceAnalyticsEngine))
}

func TestBundleNilSafety(t *testing.T) {
	var bundle *CredentialBundle

	assert.False(t, bundle.HasToken(AudienceProfile))
	assert.True(t, bundle.Expired(time.Now()))

	avail := bundle.Availability()
	for _, aud := range Audiences {
		assert.False(t, avail[aud])
	}
}

func TestBundleExpired(t *testing.T) {
	now := time.Now()
	bundle := &CredentialBundle{Expiry: now.Add(time.Minute).UnixMilli()}

	assert.False(t, bundle.Expired(now))
	assert.True(t, bundle.Expired(now.Add(2*time.Minute)))
}

func TestAvailabilityFlags(t *testing.T) {
	bundle := &CredentialBundle{
		Tokens: map[Audience]string{
			AudienceAnalyticsEngine: "a",
			AudienceProfile:         "p",
		},
	}

	assert.Equal(t, map[Audience]bool{
		AudienceProfile:         true,
		AudienceBackendAPI:      false,
		AudienceAnalyticsEngine: true,
	}, bundle.Availability())
}

func TestCredentialValid(t *testing.T) {
	now := time.Now()

	var missing *Credential
	assert.False(t, missing.Valid(now))

	live := &Credential{Token: "t", Expiry: now.Add(time.Minute).UnixMilli()}
	assert.True(t, live.Valid(now))

	expired := &Credential{Token: "t", Expiry: now.Add(-time.Minute).UnixMilli()}
	assert.False(t, expired.Valid(now))

	empty := &Credential{Expiry: now.Add(time.Minute).UnixMilli()}
	assert.False(t, empty.Valid(now))
}
