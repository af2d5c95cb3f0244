// Package broker drives the device-authorization grant to completion and
// maintains the process's credential state: cache-first sign-in, strictly
// ordered three-audience token acquisition, silent refresh, and logout.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/credstore"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/identity"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/logging"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/models"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/retry"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/usdmerrors"
)

// DefaultDeviceCodeWait bounds the local wait for the provider to deliver
// a device code. This is a client-side guard, not a provider timeout.
const DefaultDeviceCodeWait = 20 * time.Second

// Options configures a Broker.
type Options struct {
	Tenant   string
	ClientID string

	// Scopes is the device-flow scope set. Together with Tenant and
	// ClientID it determines the credential cache key.
	Scopes []string

	// DeviceCodeWait overrides DefaultDeviceCodeWait when positive.
	DeviceCodeWait time.Duration

	Store    *credstore.Store
	Provider identity.Provider
	Retry    retry.Policy
	Logger   *slog.Logger
}

// Broker owns the auth session and the in-memory credential bundle. The
// in-memory bundle is the single source of truth for "am I
// authenticated"; the store is consulted at sign-in and written after
// acquisition. Each broker is independent, so tests can run several side
// by side.
type Broker struct {
	opts           Options
	deviceCodeWait time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	session *authSession
	bundle  *models.CredentialBundle
	grant   string // refresh grant, never persisted
}

// New builds a broker. Store and Provider are required.
func New(opts Options) *Broker {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	wait := opts.DeviceCodeWait
	if wait <= 0 {
		wait = DefaultDeviceCodeWait
	}

	return &Broker{
		opts:           opts,
		deviceCodeWait: wait,
		logger:         logger,
	}
}

// SignInResult is the outcome of SignIn: either a cache hit with the
// stored identity, or a freshly issued device code for the caller to
// display.
type SignInResult struct {
	Cached          bool
	Account         *models.Account
	Audiences       map[models.Audience]bool
	UserCode        string
	VerificationURI string
}

// SignIn checks the credential store first; on a hit with an unexpired
// bundle it returns immediately with the cached identity and no network
// call. On a miss it starts a device-code session and returns the code
// and verification URI for display. Fails with ErrDeviceCodeTimeout when
// the provider does not deliver a code within the local wait bound.
func (b *Broker) SignIn(ctx context.Context) (*SignInResult, error) {
	b.mu.Lock()

	// A session already in progress keeps its device code; re-display it
	// rather than opening a second session.
	if b.session != nil && b.session.state == StateAwaitingCompletion {
		dc := b.session.deviceCode
		b.mu.Unlock()

		return &SignInResult{UserCode: dc.UserCode, VerificationURI: dc.VerificationURI}, nil
	}
	b.mu.Unlock()

	cached, err := b.opts.Store.Load(b.opts.Tenant, b.opts.ClientID, b.opts.Scopes)
	if err != nil {
		return nil, fmt.Errorf("checking credential cache: %w", err)
	}

	if cached != nil {
		b.mu.Lock()
		b.bundle = cached
		b.mu.Unlock()

		b.logger.Info("sign-in served from credential cache",
			slog.String("username", usernameOf(cached.Account)))

		return &SignInResult{
			Cached:    true,
			Account:   cached.Account,
			Audiences: cached.Availability(),
		}, nil
	}

	codeCtx, cancel := context.WithTimeout(ctx, b.deviceCodeWait)
	defer cancel()

	dc, err := b.opts.Provider.RequestDeviceCode(codeCtx)
	if err != nil {
		if codeCtx.Err() != nil && errors.Is(codeCtx.Err(), context.DeadlineExceeded) {
			return nil, usdmerrors.ErrDeviceCodeTimeout
		}

		return nil, fmt.Errorf("requesting device code: %w", err)
	}

	session := newAuthSession(dc)
	session.state = StateAwaitingCompletion

	b.mu.Lock()
	b.session = session
	b.mu.Unlock()

	// The poller outlives the SignIn call. There is no cancellation of
	// an in-flight device session: the provider-side expiry on the
	// device code bounds it.
	go func() {
		completion, err := b.opts.Provider.WaitForCompletion(context.Background(), dc)
		session.done <- completionResult{completion: completion, err: err}
	}()

	b.logger.Info("device code issued",
		slog.String("verification_uri", dc.VerificationURI))

	return &SignInResult{UserCode: dc.UserCode, VerificationURI: dc.VerificationURI}, nil
}

// SignInState classifies the result of CheckSignIn.
type SignInState int

const (
	// SignInPending means the user has not completed consent yet.
	SignInPending SignInState = iota

	// SignInCompleted means tokens were acquired; see Audiences for
	// per-audience availability.
	SignInCompleted

	// SignInFailed means the provider rejected the device flow. The
	// session is cleared; the caller must restart sign-in.
	SignInFailed
)

// SignInStatus is the structured result of CheckSignIn.
type SignInStatus struct {
	State           SignInState
	UserCode        string
	VerificationURI string
	Message         string
	Account         *models.Account

	// Audiences flags token presence per audience after completion.
	// Failures holds provider messages for audiences that were attempted
	// and failed; partial bundles are valid, not fatal.
	Audiences map[models.Audience]bool
	Failures  map[models.Audience]string
}

// CheckSignIn polls the session without blocking. While the user has not
// completed consent it returns a pending status carrying the device code
// for re-display. On completion it runs the ordered three-audience
// acquisition, persists the bundle, clears the session, and reports
// per-audience availability. Returns ErrNoSessionInProgress when SignIn
// was never called.
func (b *Broker) CheckSignIn(ctx context.Context) (*SignInStatus, error) {
	b.mu.Lock()
	session := b.session
	b.mu.Unlock()

	if session == nil {
		return nil, usdmerrors.ErrNoSessionInProgress
	}

	res, settled := session.poll()
	if !settled {
		return &SignInStatus{
			State:           SignInPending,
			UserCode:        session.deviceCode.UserCode,
			VerificationURI: session.deviceCode.VerificationURI,
		}, nil
	}

	if res.err != nil {
		b.mu.Lock()
		session.state = StateFailed
		b.session = nil
		b.mu.Unlock()

		b.logger.Warn("device flow failed", slog.String("error", res.err.Error()))

		return &SignInStatus{
			State:   SignInFailed,
			Message: res.err.Error(),
		}, nil
	}

	bundle, failures := b.acquireAll(ctx, res.completion.Grant, &res.completion.Account)

	// Commit to memory before persisting. The completion result has been
	// drained from the session, so the session must reach a terminal
	// state here no matter what the store does; a failed write must not
	// lose the acquired tokens or leave the flow reporting pending.
	b.mu.Lock()
	session.state = StateCompleted
	b.bundle = bundle
	b.grant = res.completion.Grant
	b.session = nil
	b.mu.Unlock()

	if err := b.opts.Store.Save(bundle, b.opts.Tenant, b.opts.ClientID, b.opts.Scopes); err != nil {
		return nil, fmt.Errorf("persisting credential bundle: %w", err)
	}

	b.logger.Info("sign-in completed",
		slog.String("username", usernameOf(bundle.Account)),
		slog.Int("audiences_failed", len(failures)),
	)

	return &SignInStatus{
		State:     SignInCompleted,
		Account:   bundle.Account,
		Audiences: bundle.Availability(),
		Failures:  failures,
	}, nil
}

// acquireAll walks the audiences strictly in canonical order, wrapping
// each grant in the retry policy. One audience failing never aborts the
// next: a user may lack a license for the analytics engine while
// retaining profile and API access.
func (b *Broker) acquireAll(ctx context.Context, grant string, account *models.Account) (*models.CredentialBundle, map[models.Audience]string) {
	tokens := make(map[models.Audience]string, len(models.Audiences))
	failures := make(map[models.Audience]string)

	for _, aud := range models.Audiences {
		var token string

		err := b.opts.Retry.Do(ctx, "acquire "+string(aud)+" token", func(ctx context.Context) error {
			var err error
			token, err = b.opts.Provider.AcquireTokenSilent(ctx, grant, aud)

			return err
		})
		if err != nil {
			failures[aud] = err.Error()

			b.logger.Warn("audience token acquisition failed",
				slog.String("audience", string(aud)),
				slog.String("error", err.Error()),
			)

			continue
		}

		tokens[aud] = token
	}

	return &models.CredentialBundle{Tokens: tokens, Account: account}, failures
}

// RefreshResult reports the outcome of a silent re-acquisition.
type RefreshResult struct {
	Audiences map[models.Audience]bool
	Failures  map[models.Audience]string
}

// Refresh silently re-acquires all three audience tokens using the grant
// from the completed device flow. No new device code is issued. The store
// entry is overwritten, not merged. A cache-hit sign-in holds no grant
// (the cache file never carries one), so Refresh reports that case
// distinctly from not being signed in at all.
func (b *Broker) Refresh(ctx context.Context) (*RefreshResult, error) {
	b.mu.Lock()
	grant := b.grant
	bundle := b.bundle
	b.mu.Unlock()

	if bundle == nil {
		return nil, usdmerrors.ErrNotAuthenticated
	}

	if grant == "" {
		return nil, usdmerrors.ErrNoRefreshGrant
	}

	fresh, failures := b.acquireAll(ctx, grant, bundle.Account)

	if err := b.opts.Store.Save(fresh, b.opts.Tenant, b.opts.ClientID, b.opts.Scopes); err != nil {
		return nil, fmt.Errorf("persisting refreshed bundle: %w", err)
	}

	b.mu.Lock()
	b.bundle = fresh
	b.mu.Unlock()

	b.logger.Info("credentials refreshed",
		slog.Int("audiences_failed", len(failures)))

	return &RefreshResult{Audiences: fresh.Availability(), Failures: failures}, nil
}

// Logout clears in-memory tokens and the session, and removes the store
// entry for the current key. Idempotent.
func (b *Broker) Logout(ctx context.Context) error {
	b.mu.Lock()
	b.bundle = nil
	b.grant = ""
	b.session = nil
	b.mu.Unlock()

	if err := b.opts.Store.Clear(b.opts.Tenant, b.opts.ClientID, b.opts.Scopes); err != nil {
		return fmt.Errorf("clearing credential cache: %w", err)
	}

	b.logger.Info("signed out")

	return nil
}

// AuthStatus is a read-only snapshot of broker state. Token values are
// never exposed.
type AuthStatus struct {
	Authenticated bool
	Pending       bool
	Account       *models.Account
	Audiences     map[models.Audience]bool
}

// Status reports whether the broker holds a live bundle and whether a
// device-flow session awaits completion.
func (b *Broker) Status() AuthStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := AuthStatus{
		Pending:   b.session != nil && b.session.state == StateAwaitingCompletion,
		Audiences: b.bundle.Availability(),
	}

	if b.bundle != nil && !b.bundle.Expired(time.Now()) {
		status.Authenticated = true
		status.Account = b.bundle.Account
	}

	return status
}

// Credential returns the gateway credential for one audience, or nil when
// no live token is held.
func (b *Broker) Credential(aud models.Audience) *models.Credential {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bundle == nil || !b.bundle.HasToken(aud) {
		return nil
	}

	return &models.Credential{
		Audience: aud,
		Token:    b.bundle.Token(aud),
		Expiry:   b.bundle.Expiry,
	}
}

// InvalidateToken drops one audience's token from the in-memory bundle.
// The gateway calls this when the provider rejects a token with 401; the
// next Refresh re-acquires it.
func (b *Broker) InvalidateToken(aud models.Audience) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bundle != nil {
		delete(b.bundle.Tokens, aud)
	}
}

func usernameOf(account *models.Account) string {
	if account == nil {
		return ""
	}

	return account.Username
}
