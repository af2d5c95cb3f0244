package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/logging"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/models"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/usdmerrors"
)

const (
	// httpClientTimeout bounds individual HTTP requests to the provider.
	httpClientTimeout = 30 * time.Second

	// maxTokenResponseBytes caps token endpoint response reads. Token
	// payloads are small JSON documents.
	maxTokenResponseBytes = 1024 * 1024
)

// Options configures the identity client.
type Options struct {
	// AuthorityURL is the base URL of the OAuth authority, e.g.
	// https://login.microsoftonline.com. The tenant path segment and the
	// device/token endpoints are appended to it.
	AuthorityURL string

	// Tenant and ClientID identify the directory and application.
	Tenant   string
	ClientID string

	// DeviceScopes is the scope set requested by the device flow:
	// offline access plus one scope per downstream audience.
	DeviceScopes []string

	// BackendAPIResource and AnalyticsEngineResource are the resource
	// identifiers whose "/.default" scopes back the two non-profile
	// audiences.
	BackendAPIResource      string
	AnalyticsEngineResource string

	// HTTPClient overrides the default client. Used by tests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client implements Provider against a real OAuth2/OIDC authority.
type Client struct {
	opts   Options
	conf   *oauth2.Config
	logger *slog.Logger
}

var _ Provider = (*Client)(nil)

// NewClient builds an identity client for the given authority and tenant.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	base := strings.TrimRight(opts.AuthorityURL, "/") + "/" + opts.Tenant

	conf := &oauth2.Config{
		ClientID: opts.ClientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: base + "/oauth2/v2.0/devicecode",
			TokenURL:      base + "/oauth2/v2.0/token",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
		Scopes: opts.DeviceScopes,
	}

	return &Client{opts: opts, conf: conf, logger: logger}
}

// httpContext returns a context carrying the configured HTTP client so
// the oauth2 package uses it for provider calls.
func (c *Client) httpContext(ctx context.Context) context.Context {
	client := c.opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpClientTimeout}
	}

	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// RequestDeviceCode starts a device-authorization session. Network
// failures are transient; the caller bounds the overall wait.
func (c *Client) RequestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	resp, err := c.conf.DeviceAuth(c.httpContext(ctx))
	if err != nil {
		return nil, providerError("requesting device code", err)
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	c.logger.Debug("device code issued",
		slog.String("verification_uri", resp.VerificationURI),
		slog.Time("expires_at", resp.Expiry),
	)

	return &DeviceCode{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		ExpiresAt:       resp.Expiry,
		Interval:        interval,
	}, nil
}

// WaitForCompletion polls the token endpoint until the user completes
// consent, the session expires, or ctx is cancelled.
func (c *Client) WaitForCompletion(ctx context.Context, dc *DeviceCode) (*Completion, error) {
	tok, err := c.conf.DeviceAccessToken(c.httpContext(ctx), &oauth2.DeviceAuthResponse{
		DeviceCode: dc.DeviceCode,
		Expiry:     dc.ExpiresAt,
		Interval:   int64(dc.Interval / time.Second),
	})
	if err != nil {
		// A terminal polling error (access_denied, expired_token)
		// means the user did not complete the flow.
		return nil, fmt.Errorf("%w: %s", usdmerrors.ErrAuthenticationFailed, providerMessage(err))
	}

	account := c.accountFromToken(tok)

	return &Completion{
		Account: account,
		Grant:   tok.RefreshToken,
	}, nil
}

// AcquireTokenSilent performs a refresh grant scoped to one audience.
// The oauth2 package's refresh TokenSource does not carry a scope
// parameter, so the form is posted directly: the scope is what selects
// the audience.
func (c *Client) AcquireTokenSilent(ctx context.Context, grant string, audience models.Audience) (string, error) {
	if grant == "" {
		return "", fmt.Errorf("no grant available for silent acquisition")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.opts.ClientID},
		"refresh_token": {grant},
		"scope":         {strings.Join(c.scopesFor(audience), " ")},
	}

	action := fmt.Sprintf("acquiring %s token", audience)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s: %w", action, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := c.opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpClientTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		// Timeouts, connection refused, DNS failures.
		return "", &usdmerrors.TransientError{Err: fmt.Errorf("%s: %w", action, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return "", &usdmerrors.TransientError{Err: fmt.Errorf("%s: reading response: %w", action, err)}
	}

	if resp.StatusCode != http.StatusOK {
		msg := tokenErrorMessage(body, resp.StatusCode)

		wrapped := fmt.Errorf("%s: %s", action, msg)
		if resp.StatusCode >= http.StatusInternalServerError {
			return "", &usdmerrors.TransientError{Err: wrapped}
		}

		return "", wrapped
	}

	token := gjson.GetBytes(body, "access_token").Str
	if token == "" {
		return "", fmt.Errorf("%s: token endpoint returned no access_token", action)
	}

	return token, nil
}

// tokenErrorMessage renders a token-endpoint error body.
func tokenErrorMessage(body []byte, status int) string {
	if gjson.ValidBytes(body) {
		code := gjson.GetBytes(body, "error").Str
		desc := gjson.GetBytes(body, "error_description").Str

		switch {
		case code != "" && desc != "":
			return code + ": " + desc
		case code != "":
			return code
		}
	}

	return fmt.Sprintf("token endpoint returned status %d", status)
}

// scopesFor maps an audience to the scope set for its silent request.
// The profile audience uses the OIDC scopes; the other two use a single
// default-style scope per resource.
func (c *Client) scopesFor(audience models.Audience) []string {
	switch audience {
	case models.AudienceBackendAPI:
		return []string{"offline_access", c.opts.BackendAPIResource + "/.default"}
	case models.AudienceAnalyticsEngine:
		return []string{"offline_access", c.opts.AnalyticsEngineResource + "/.default"}
	default:
		return []string{"openid", "profile", "offline_access"}
	}
}

// accountFromToken extracts identity metadata from the ID token shipped
// alongside the device-flow token. A missing or malformed ID token
// degrades to an account with empty fields rather than failing the flow.
func (c *Client) accountFromToken(tok *oauth2.Token) models.Account {
	account := models.Account{Environment: authorityHost(c.opts.AuthorityURL)}

	idToken, _ := tok.Extra("id_token").(string)

	claims, ok := decodeJWTClaims(idToken)
	if !ok {
		c.logger.Warn("no parsable id_token in device-flow response")
		return account
	}

	account.Username = gjson.GetBytes(claims, "preferred_username").Str
	account.Name = gjson.GetBytes(claims, "name").Str
	account.TenantID = gjson.GetBytes(claims, "tid").Str
	account.LocalAccountID = gjson.GetBytes(claims, "oid").Str

	if account.LocalAccountID != "" && account.TenantID != "" {
		account.HomeAccountID = account.LocalAccountID + "." + account.TenantID
	}

	return account
}

// decodeJWTClaims base64-decodes the claims segment of a JWT without
// verifying the signature. The token arrived over TLS from the token
// endpoint; it is used for display metadata only, never authorization.
func decodeJWTClaims(token string) ([]byte, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, false
	}

	claims, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, false
	}

	if !gjson.ValidBytes(claims) {
		return nil, false
	}

	return claims, true
}

func authorityHost(authorityURL string) string {
	u, err := url.Parse(authorityURL)
	if err != nil || u.Host == "" {
		return authorityURL
	}

	return u.Host
}

// providerError classifies an oauth2 failure. Network-level failures and
// provider 5xx responses are transient; 4xx responses carry a provider
// error code and are not retried.
func providerError(action string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		// Timeouts, connection refused, DNS failures.
		return &usdmerrors.TransientError{Err: fmt.Errorf("%s: %w", action, err)}
	}

	msg := retrieveErrorMessage(re)

	wrapped := fmt.Errorf("%s: %s", action, msg)
	if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
		return &usdmerrors.TransientError{Err: wrapped}
	}

	return wrapped
}

// retrieveErrorMessage pulls the provider's error code and description
// out of a token-endpoint error body.
func retrieveErrorMessage(re *oauth2.RetrieveError) string {
	code := re.ErrorCode
	desc := re.ErrorDescription

	if code == "" && len(re.Body) > 0 {
		code = gjson.GetBytes(re.Body, "error").Str
		desc = gjson.GetBytes(re.Body, "error_description").Str
	}

	switch {
	case code != "" && desc != "":
		return code + ": " + desc
	case code != "":
		return code
	default:
		return re.Error()
	}
}

// providerMessage renders any provider error for user display.
func providerMessage(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return retrieveErrorMessage(re)
	}

	return err.Error()
}
