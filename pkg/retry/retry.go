// Package retry wraps transient operations (cache, storage and database writes)
// in a bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"arenaoj/pkg/utils/logger"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts     = 4
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     defaultMaxAttempts,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
	}
}

// Normalize fills zero fields with defaults.
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, exhausts the policy or ctx ends.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	p = p.Normalize()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op(ctx)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn(ctx, "retrying operation", zap.String("op", name), zap.Duration("next", next), zap.Error(err))
		}),
	)
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.Normalize()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		return op(ctx)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	)
}

// Delay returns base doubled retryCount times, capped at max.
// Idle workers use it to widen their poll interval.
func Delay(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
