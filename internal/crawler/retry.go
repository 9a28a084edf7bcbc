package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/metrics"
)

// DefaultMaxAttempts is the number of fetch attempts made per URL.
const DefaultMaxAttempts = 3

// ErrFetchFailed is matched by every error returned once a URL's attempts are exhausted.
var ErrFetchFailed = errors.New("fetch failed")

// FetchError reports a URL that could not be fetched after all attempts.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

// Unwrap exposes both ErrFetchFailed and the last transport error.
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

// RetryPolicy decides whether a failed attempt is retried and how long to wait.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// FixedRetryPolicy retries every transport error up to maxAttempts with a
// constant delay (zero by default).
type FixedRetryPolicy struct {
	maxAttempts int
	delay       time.Duration
}

// NewFixedRetryPolicy builds a policy; non-positive maxAttempts falls back to DefaultMaxAttempts.
func NewFixedRetryPolicy(maxAttempts int, delay time.Duration) *FixedRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay < 0 {
		delay = 0
	}
	return &FixedRetryPolicy{maxAttempts: maxAttempts, delay: delay}
}

// MaxAttempts returns the total number of attempts allowed.
func (p *FixedRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable.
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	return attempt < p.maxAttempts
}

// Backoff returns the wait duration before the next attempt.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.delay
}

// RetryingFetcher retries transport failures of the wrapped Fetcher. HTTP
// error statuses are responses, not failures, and are returned as-is.
type RetryingFetcher struct {
	next   Fetcher
	policy RetryPolicy
	pauser pauser
	logger *zap.Logger
}

// NewRetryingFetcher wraps next with policy. A nil policy uses three attempts and no delay.
func NewRetryingFetcher(next Fetcher, policy RetryPolicy, logger *zap.Logger) *RetryingFetcher {
	if policy == nil {
		policy = NewFixedRetryPolicy(DefaultMaxAttempts, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingFetcher{
		next:   next,
		policy: policy,
		pauser: timerPauser{},
		logger: logger,
	}
}

// Fetch attempts url until it succeeds, the policy gives up, or ctx ends.
func (f *RetryingFetcher) Fetch(ctx context.Context, url string) (FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		metrics.ObserveFetchAttempt()
		resp, err := f.next.Fetch(ctx, url)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return FetchResponse{}, fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
		}
		f.logger.Warn("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !f.policy.ShouldRetry(err, attempt) {
			f.logger.Error("fetch attempts exhausted", zap.String("url", url), zap.Int("attempts", attempt))
			return FetchResponse{}, &FetchError{URL: url, Attempts: attempt, Err: err}
		}
		if !f.pauser.Pause(ctx, f.policy.Backoff(attempt)) {
			return FetchResponse{}, fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
		}
	}
}
