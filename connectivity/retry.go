// Package connectivity wraps outbound platform calls with the rate-limit
// retry policy.
//
//	err := connectivity.Retry(ctx, "edit_card", connectivity.DefaultPolicy(), func(ctx context.Context) error {
//		return platform.EditCard(ctx, ref, card)
//	})
//
// Only throttles are retried. Any other failure is returned unchanged on
// the first occurrence.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/igaboo/mark/channels"
)

// Defaults for Policy.
const (
	DefaultMaxRetries = 5
	DefaultWait       = 5 * time.Second
)

// Policy bounds the retries of a single call.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// DefaultWait is used when the platform gave no retry-after hint.
	DefaultWait time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger receives one WARN line per retry. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultPolicy returns 5 retries with a 5s fallback wait.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, DefaultWait: DefaultWait}
}

// Retry runs call until it succeeds, fails with a non-throttle error, or
// has been throttled MaxRetries+1 times. The last case returns
// *ErrRetriesExhausted.
func Retry(ctx context.Context, op string, p Policy, call func(ctx context.Context) error) error {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.DefaultWait <= 0 {
		p.DefaultWait = DefaultWait
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var last error
	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}
		var rl *channels.ErrRateLimited
		if !errors.As(err, &rl) {
			return err
		}
		last = err
		if attempt > p.MaxRetries {
			break
		}

		wait := rl.RetryAfter
		if wait <= 0 {
			wait = p.DefaultWait
		}
		logger.WarnContext(ctx, "connectivity: rate limited, retrying",
			"op", op,
			"attempt", attempt,
			"max_retries", p.MaxRetries,
			"wait_ms", wait.Milliseconds())
		if err := p.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return &ErrRetriesExhausted{Op: op, Attempts: p.MaxRetries + 1, Last: last}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
