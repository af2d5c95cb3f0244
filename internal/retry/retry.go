// Package retry wraps fallible operations with bounded exponential
// backoff. It is used around per-audience token acquisition; device-code
// issuance has its own bounded wait and is not retried here.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/logging"
	"github.com/kbrown10000/usdm-mcp-platform-sub001/internal/usdmerrors"
)

const (
	// DefaultMaxAttempts is the total number of calls, including the
	// first: an initial attempt plus up to three retries.
	DefaultMaxAttempts = 4

	// DefaultBaseDelay is the delay before the first retry. Each further
	// retry doubles it: 1s, 2s, 4s.
	DefaultBaseDelay = time.Second
)

// Policy runs operations with bounded exponential backoff. Only transient
// failures are retried; any other error, and the final attempt's error,
// propagate to the caller unchanged.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger
}

// Default returns the production policy: an initial call plus three
// retries, 1s base delay.
func Default(logger *slog.Logger) Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Logger:      logger,
	}
}

// Do runs op, retrying transient failures with exponential backoff. The
// name appears in log lines only. Context cancellation during a backoff
// wait aborts with the context error wrapping the last failure.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	logger := p.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay

	var err error

	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}

		if attempt >= attempts || !usdmerrors.IsTransient(err) {
			return err
		}

		logger.Debug("transient failure, backing off",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s aborted during backoff: %w (last error: %v)", name, ctx.Err(), err)
		}

		delay *= 2
	}
}
