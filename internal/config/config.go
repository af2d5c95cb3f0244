// Package config loads environment-based configuration for the credential
// broker and query gateway.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration.
type Config struct {
	// Identity provider parameters. Tenant and ClientID are required.
	Tenant   string `env:"USDM_TENANT_ID"`
	ClientID string `env:"USDM_CLIENT_ID"`

	// AuthorityURL is the base URL of the OAuth2/OIDC authority. The
	// device-authorization and token endpoints are derived from it.
	AuthorityURL string `env:"USDM_AUTHORITY_URL" envDefault:"https://login.microsoftonline.com"`

	// Resource identifiers for the two non-profile audiences. Each is
	// turned into a single "<resource>/.default" scope for silent
	// acquisition.
	BackendAPIResource      string `env:"USDM_BACKEND_API_RESOURCE"`
	AnalyticsEngineResource string `env:"USDM_ANALYTICS_RESOURCE"`

	// CacheDir is where credential files and the result-cache database
	// live. Defaults to ~/.usdm-broker/.
	CacheDir string `env:"USDM_CACHE_DIR"`

	// CachePassphrase enables encryption at rest for credential files
	// when non-empty. Plaintext JSON otherwise.
	CachePassphrase string `env:"USDM_CACHE_PASSPHRASE"`

	// CredentialTTL is the cache window stamped onto saved bundles. It is
	// intentionally decoupled from the provider's own token expiry.
	CredentialTTL time.Duration `env:"USDM_CREDENTIAL_TTL" envDefault:"1h"`

	// DeviceCodeWait bounds the local wait for the provider to deliver a
	// device code.
	DeviceCodeWait time.Duration `env:"USDM_DEVICE_CODE_WAIT" envDefault:"20s"`

	// MaxConcurrentQueries caps simultaneous outbound calls to the
	// analytical service. The provider documents a ceiling of 3
	// concurrent queries; exceeding it draws HTTP 429s.
	MaxConcurrentQueries int `env:"USDM_MAX_CONCURRENT_QUERIES" envDefault:"3"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.CacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}

		cfg.CacheDir = dir
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve CacheDir to an absolute path at startup so derived file
	// paths are stable regardless of the process working directory.
	absDir, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache dir to absolute path: %w", err)
	}

	cfg.CacheDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Tenant == "" {
		return fmt.Errorf("USDM_TENANT_ID is required")
	}

	if c.ClientID == "" {
		return fmt.Errorf("USDM_CLIENT_ID is required")
	}

	if c.BackendAPIResource == "" {
		return fmt.Errorf("USDM_BACKEND_API_RESOURCE is required")
	}

	if c.AnalyticsEngineResource == "" {
		return fmt.Errorf("USDM_ANALYTICS_RESOURCE is required")
	}

	if !strings.HasPrefix(c.AuthorityURL, "https://") && !strings.HasPrefix(c.AuthorityURL, "http://") {
		return fmt.Errorf("USDM_AUTHORITY_URL must be an http(s) URL")
	}

	if c.MaxConcurrentQueries < 1 {
		return fmt.Errorf("USDM_MAX_CONCURRENT_QUERIES must be at least 1")
	}

	if c.CredentialTTL <= 0 {
		return fmt.Errorf("USDM_CREDENTIAL_TTL must be positive")
	}

	return nil
}

// DefaultCacheDir returns the default cache directory: ~/.usdm-broker/
func DefaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".usdm-broker"), nil
}

// Scopes returns the device-flow scope set: offline access plus one scope
// per downstream audience. The two non-profile audiences use a single
// default-style scope per resource.
func (c *Config) Scopes() []string {
	return []string{
		"openid",
		"profile",
		"offline_access",
		c.BackendAPIResource + "/.default",
		c.AnalyticsEngineResource + "/.default",
	}
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
