package store

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
)

// Retry calls fn until it succeeds, fails with a non-transient error, or
// the configured attempts run out. Condition failures are returned at once:
// a retried conditional write that already succeeded would fail its own
// precondition and look like a genuine conflict.
func (s *Store) Retry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.NewExponentialJitterBackoff(s.config.MaxBackoff)
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt >= s.config.MaxAttempts {
			s.logger.Warn("giving up after transient failures",
				"attempts", attempt,
				"error", err,
			)
			return err
		}

		delay, berr := backoff.BackoffDelay(attempt, err)
		if berr != nil {
			return err
		}
		s.logger.Debug("retrying after transient failure",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
