package analytics

import (
	"context"
	"math/rand"
	"time"

	"github.com/insightflo/perfmon/pkg/types"
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// JitterFunc returns the random offset added to a backoff delay
type JitterFunc func() time.Duration

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) JitterFunc {
	return func() time.Duration {
		if limit <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(limit)))
	}
}

// backoff computes base * 2^attempt plus jitter
func backoff(cfg types.RetryConfig, attempt int, jitter JitterFunc) time.Duration {
	return cfg.BaseDelay<<attempt + jitter()
}

// retryResult describes one retried operation
type retryResult struct {
	attempts int
	delays   []time.Duration
}

// retry runs fn until it succeeds, fails permanently, runs out of attempts
// or would exceed the total delay budget.
func retry(ctx context.Context, cfg types.RetryConfig, sleep SleepFunc, jitter JitterFunc, fn func(context.Context) error) (retryResult, error) {
	var (
		res   retryResult
		total time.Duration
		err   error
	)

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		res.attempts++
		err = fn(ctx)
		if err == nil {
			return res, nil
		}
		if !IsTransient(err) || attempt == cfg.MaxAttempts-1 {
			return res, err
		}

		delay := backoff(cfg, attempt, jitter)
		if cfg.MaxTotalDelay > 0 && total+delay > cfg.MaxTotalDelay {
			return res, err
		}
		total += delay
		res.delays = append(res.delays, delay)

		if serr := sleep(ctx, delay); serr != nil {
			return res, err
		}
	}
	return res, err
}
