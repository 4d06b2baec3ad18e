package broker

import (
	"alpharius-go/internal/models"
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// RetryPolicy bounds a retried broker call. Delays double from Initial.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
}

// PolicyFromConfig builds the account and order retry policies.
func PolicyFromConfig(cfg models.BrokerConfig) (account, order RetryPolicy) {
	initial := time.Duration(cfg.RetryInitialDelayMs) * time.Millisecond
	return RetryPolicy{Attempts: cfg.AccountRetries, Initial: initial},
		RetryPolicy{Attempts: cfg.OrderRetries, Initial: initial}
}

// Retry calls fn until it succeeds, the attempts run out, the error is permanent or ctx is done.
func Retry[T any](ctx context.Context, policy RetryPolicy, logger *zap.SugaredLogger, op string, fn func() (T, error)) (T, error) {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	b := &backoff.Backoff{
		Min:    policy.Initial,
		Max:    policy.Initial * 64,
		Factor: 2,
	}

	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		var apiErr *models.Error
		if errors.As(err, &apiErr) && apiErr.Permanent() {
			return zero, err
		}
		if i == attempts-1 {
			break
		}

		wait := b.Duration()
		if logger != nil {
			logger.Warnf("%s failed (attempt %d/%d), retrying in %v: %v", op, i+1, attempts, wait, err)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
	return zero, lastErr
}
