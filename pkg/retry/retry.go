// Package retry runs store writes with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
)

// Policy bounds the retries of one write.
type Policy struct {
	Attempts    int           // total tries, including the first
	Initial     time.Duration // first backoff interval
	MaxInterval time.Duration
}

// DefaultPolicy is three attempts starting at 100ms.
var DefaultPolicy = Policy{Attempts: 3, Initial: 100 * time.Millisecond, MaxInterval: 2 * time.Second}

// Runner applies a Policy and logs what it drops.
type Runner struct {
	policy Policy
	logger *zap.Logger
}

// NewRunner creates a retry runner.
func NewRunner(policy Policy, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Initial <= 0 {
		policy.Initial = DefaultPolicy.Initial
	}
	if policy.MaxInterval < policy.Initial {
		policy.MaxInterval = policy.Initial
	}
	return &Runner{policy: policy, logger: logger}
}

// Do runs fn until it succeeds, fails with a non-store error, or the attempts run out.
// Store failures that exhaust the policy come back as *memerr.DroppedError carrying payload.
func (r *Runner) Do(ctx context.Context, op string, payload interface{}, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.Initial
	b.MaxInterval = r.policy.MaxInterval
	b.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !memerr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("store write failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.Attempts-1)), ctx), notify)
	if err == nil || !memerr.Retryable(err) {
		return err
	}
	r.logger.Error("write dropped", zap.String("op", op), zap.Int("attempts", attempts), zap.Any("payload", payload), zap.Error(err))
	return &memerr.DroppedError{Op: op, Attempts: attempts, Payload: payload, Err: err}
}
