package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease_Basic(t *testing.T) {
	l := New(2)

	require.NoError(t, l.Acquire(context.Background()))
	assert.Equal(t, int64(1), l.InFlight())

	l.Release()
	assert.Equal(t, int64(0), l.InFlight())
}

func TestNew_DefaultsBelowOne(t *testing.T) {
	l := New(0)
	assert.Equal(t, int64(DefaultMaxConcurrent), l.Max())
}

func TestAcquire_NeverExceedsCeiling(t *testing.T) {
	const (
		maxConcurrent = 3
		workers       = 12
	)

	l := New(maxConcurrent)

	var (
		active  atomic.Int64
		peak    atomic.Int64
		wg      sync.WaitGroup
		release = make(chan struct{})
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			require.NoError(t, l.Acquire(context.Background()))
			defer l.Release()

			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}

			<-release
			active.Add(-1)
		}()
	}

	// Give every worker a chance to pile up on the gate.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(maxConcurrent), l.InFlight())

	close(release)
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(maxConcurrent))
	assert.Equal(t, int64(0), l.InFlight())
}

func TestAcquire_ContextCancelled(t *testing.T) {
	l := New(1)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), l.InFlight())

	l.Release()
}
