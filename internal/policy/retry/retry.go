// Package retry provides jittered exponential backoff for upstream calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config tunes an ExponentialPolicy. MaxAttempts counts retries after the first call;
// zero retries forever.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// ExponentialPolicy retries failed calls with randomized exponential waits.
type ExponentialPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	permanent   []error
}

// NewExponentialPolicy builds a policy. Errors matching any of permanent are never retried.
func NewExponentialPolicy(cfg Config, permanent ...error) *ExponentialPolicy {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	return &ExponentialPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		permanent:   permanent,
	}
}

// backOff returns a fresh schedule for one Do call. It never stops on elapsed time.
func (p *ExponentialPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.baseDelay
	eb.MaxInterval = p.maxDelay
	eb.MaxElapsedTime = 0
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.5
	eb.Reset()

	var b backoff.BackOff = eb
	if p.maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.maxAttempts))
	}
	return backoff.WithContext(b, ctx)
}

func (p *ExponentialPolicy) isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	for _, target := range p.permanent {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Do calls fn until it succeeds, the policy gives up, or ctx ends. onRetry, when
// non-nil, observes each failure that will be retried with its zero-based attempt.
func (p *ExponentialPolicy) Do(
	ctx context.Context,
	fn func(context.Context) error,
	onRetry func(err error, attempt int, wait time.Duration),
) error {
	attempt := 0
	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(fmt.Errorf("%w (last error: %w)", ctxErr, err))
		}
		if p.isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(err, attempt, wait)
		}
		attempt++
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return fmt.Errorf("%w (last error: %w)", ctxErr, err)
		}
		return err
	}
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
