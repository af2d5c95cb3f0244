// Package gateway mediates outbound calls to the rate-limited analytical
// query service: result-cache first, then a bounded-concurrency slot, then
// the caller-supplied query function, with provider errors classified on
// the way back out.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/limiter"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/logging"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/models"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/resultcache"
)

// QueryFunc encapsulates the domain-specific request against the
// analytical service. Query construction is the caller's concern; the
// gateway only supplies the credential and bounds the call.
type QueryFunc func(ctx context.Context, cred *models.Credential) (json.RawMessage, error)

// TokenInvalidator is the broker hook called when the provider rejects a
// token with 401, so the stale token is dropped locally.
type TokenInvalidator interface {
	InvalidateToken(aud models.Audience)
}

// Gateway applies the result cache and the concurrency limiter around
// every outbound query.
type Gateway struct {
	cache       *resultcache.Cache
	limiter     *limiter.Limiter
	invalidator TokenInvalidator
	logger      *slog.Logger
}

// New builds a gateway. The invalidator may be nil when no local token
// invalidation is wanted (tests).
func New(cache *resultcache.Cache, lim *limiter.Limiter, invalidator TokenInvalidator, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = logging.Discard()
	}

	return &Gateway{
		cache:       cache,
		limiter:     lim,
		invalidator: invalidator,
		logger:      logger,
	}
}

// Run executes a query through the cache and limiter. A cache hit returns
// without touching the network or consuming a slot. A missing or expired
// credential is rejected before the limiter, since that is a local
// precondition failure, not a provider error. Failed queries are never cached and
// never re-attempted here; repeated throttling stays visible to the
// caller.
func (g *Gateway) Run(ctx context.Context, category, key string, cred *models.Credential, queryFn QueryFunc) (json.RawMessage, error) {
	if hit, err := g.cache.Get(category, key); err != nil {
		g.logger.Warn("result cache read failed",
			slog.String("category", category), slog.String("error", err.Error()))
	} else if hit != nil {
		g.logger.Debug("result cache hit",
			slog.String("category", category), slog.String("key", key))

		return hit, nil
	}

	if !cred.Valid(time.Now()) {
		return nil, newTokenUnavailableError(category, cred)
	}

	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for query slot: %w", err)
	}
	defer g.limiter.Release()

	result, err := queryFn(ctx, cred)
	if err != nil {
		qerr := classify(category, cred.Audience, err)

		if qerr.Kind == KindTokenExpired && g.invalidator != nil {
			g.invalidator.InvalidateToken(cred.Audience)
		}

		g.logger.Warn("query failed",
			slog.String("category", category),
			slog.String("audience", string(cred.Audience)),
			slog.String("kind", qerr.Kind.String()),
		)

		return nil, qerr
	}

	if err := g.cache.Set(category, key, result); err != nil {
		// A write failure degrades caching, not the query itself.
		g.logger.Warn("result cache write failed",
			slog.String("category", category), slog.String("error", err.Error()))
	}

	return result, nil
}

// Stats reports gateway instrumentation for status output.
type Stats struct {
	InFlight      int64
	MaxConcurrent int64
	CachePath     string
}

// Stats returns a snapshot of limiter occupancy and the cache location.
func (g *Gateway) Stats() Stats {
	return Stats{
		InFlight:      g.limiter.InFlight(),
		MaxConcurrent: g.limiter.Max(),
		CachePath:     g.cache.Path(),
	}
}
