package flow

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wolfeidau/tenantctl/internal/deploy"
	"github.com/wolfeidau/tenantctl/internal/queue"
	"github.com/wolfeidau/tenantctl/internal/registry"
	"github.com/wolfeidau/tenantctl/internal/trust"
)

// RetryPolicy bounds retries of one step with multiplicative backoff. It is
// configuration rather than hardcoded per-step constants so tests can shrink
// the delays.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
}

// backOff builds the exponential backoff for one retry sequence.
func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.BackoffFactor
	return b
}

// retryStep runs op under the policy, retrying transient failures. Ops mark
// non-retryable failures with backoff.Permanent.
func retryStep[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)), //nolint:gosec // small positive config value
	)
}

// permanent wraps non-retryable step failures so the retry loop stops
// immediately. The error taxonomy: validation errors, denied trust, and
// rejected templates are terminal; throttling and unavailable services are
// transient.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, deploy.ErrValidation),
		errors.Is(err, deploy.ErrSubmissionRejected),
		errors.Is(err, trust.ErrTrustDenied),
		errors.Is(err, registry.ErrOperationInFlight),
		errors.Is(err, registry.ErrRecordNotFound),
		errors.Is(err, queue.ErrQueueNotConfigured):
		return backoff.Permanent(err)
	}
	return err
}
