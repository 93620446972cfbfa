package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/securactl/securactl/pkg/remote"
)

// Sleeper performs the backoff wait. Tests inject one that records the
// requested durations instead of sleeping.
type Sleeper func(d time.Duration)

// Retryer runs remote mutating calls with classified retry and bounded
// exponential backoff. Classification is total: retryable codes are
// retried up to MaxRetries attempts in all, everything else is returned
// on first occurrence without sleeping.
type Retryer struct {
	maxRetries int
	sleep      Sleeper
	logger     zerolog.Logger

	// onRetry is notified before each retry attempt, used for metrics.
	onRetry func(opName string)
}

// DefaultMaxRetries is the attempt bound used when none is configured.
const DefaultMaxRetries = 3

// NewRetryer creates a retryer with the given total attempt bound.
func NewRetryer(maxRetries int, logger zerolog.Logger) *Retryer {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return &Retryer{
		maxRetries: maxRetries,
		sleep:      func(d time.Duration) { time.Sleep(d) },
		logger:     logger,
	}
}

// WithRetryObserver registers a callback fired before every retry
// attempt, keyed by operation name.
func (r *Retryer) WithRetryObserver(fn func(opName string)) *Retryer {
	r.onRetry = fn
	return r
}

// WithSleeper replaces the wait function. Intended for tests.
func (r *Retryer) WithSleeper(sleep Sleeper) *Retryer {
	r.sleep = sleep
	return r
}

// MaxRetries returns the configured total attempt bound.
func (r *Retryer) MaxRetries() int {
	return r.maxRetries
}

// Do invokes fn up to MaxRetries times. The wait before attempt k (for
// k >= 2) is 2^(k-2) seconds: 1s, 2s, 4s, ... Non-retryable errors are
// returned immediately and do not consume attempts; after the last
// attempt the final retryable error is returned.
func (r *Retryer) Do(ctx context.Context, opName string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if attempt > 1 {
			if r.onRetry != nil {
				r.onRetry(opName)
			}
			wait := time.Duration(1<<(attempt-2)) * time.Second
			r.logger.Warn().
				Str("operation", opName).
				Int("attempt", attempt).
				Int("max_retries", r.maxRetries).
				Dur("backoff", wait).
				Err(lastErr).
				Msg("retrying after transient failure")
			r.sleep(wait)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !remote.IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
