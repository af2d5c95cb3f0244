package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()

	t.Setenv("USDM_TENANT_ID", "contoso.onmicrosoft.com")
	t.Setenv("USDM_CLIENT_ID", "11111111-2222-3333-4444-555555555555")
	t.Setenv("USDM_BACKEND_API_RESOURCE", "https://api.usdm.example.com")
	t.Setenv("USDM_ANALYTICS_RESOURCE", "https://analysis.windows.net/powerbi/api")
	t.Setenv("USDM_CACHE_DIR", t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://login.microsoftonline.com", cfg.AuthorityURL)
	assert.Equal(t, time.Hour, cfg.CredentialTTL)
	assert.Equal(t, 20*time.Second, cfg.DeviceCodeWait)
	assert.Equal(t, 3, cfg.MaxConcurrentQueries)
	assert.Equal(t, "development", cfg.Environment)
	assert.Empty(t, cfg.CachePassphrase)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("USDM_AUTHORITY_URL", "https://login.example.com")
	t.Setenv("USDM_CREDENTIAL_TTL", "30m")
	t.Setenv("USDM_DEVICE_CODE_WAIT", "5s")
	t.Setenv("USDM_MAX_CONCURRENT_QUERIES", "2")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://login.example.com", cfg.AuthorityURL)
	assert.Equal(t, 30*time.Minute, cfg.CredentialTTL)
	assert.Equal(t, 5*time.Second, cfg.DeviceCodeWait)
	assert.Equal(t, 2, cfg.MaxConcurrentQueries)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		wantMsg string
	}{
		{"missing tenant", "USDM_TENANT_ID", "USDM_TENANT_ID"},
		{"missing client", "USDM_CLIENT_ID", "USDM_CLIENT_ID"},
		{"missing backend resource", "USDM_BACKEND_API_RESOURCE", "USDM_BACKEND_API_RESOURCE"},
		{"missing analytics resource", "USDM_ANALYTICS_RESOURCE", "USDM_ANALYTICS_RESOURCE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-url authority", "USDM_AUTHORITY_URL", "login.microsoftonline.com"},
		{"zero concurrency", "USDM_MAX_CONCURRENT_QUERIES", "0"},
		{"negative ttl", "USDM_CREDENTIAL_TTL", "-1h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_CacheDirIsAbsolute(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("USDM_CACHE_DIR", "relative/cache")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.CacheDir))
}

func TestScopes(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	scopes := cfg.Scopes()
	assert.Contains(t, scopes, "openid")
	assert.Contains(t, scopes, "profile")
	assert.Contains(t, scopes, "offline_access")
	assert.Contains(t, scopes, "https://api.usdm.example.com/.default")
	assert.Contains(t, scopes, "https://analysis.windows.net/powerbi/api/.default")
	assert.Len(t, scopes, 5)
}
