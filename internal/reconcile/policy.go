package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrGaveUp is returned by [ReconnectPolicy.Run] once every attempt failed.
var ErrGaveUp = errors.New("reconnect: attempts exhausted")

// ReconnectPolicy bounds how the loop retries the presence connection.
type ReconnectPolicy struct {
	// MaxAttempts caps connection attempts per round. Zero or less retries
	// until the context ends.
	MaxAttempts int
	// Initial is the wait after the first failure.
	Initial time.Duration
	// Max caps the wait between attempts. Zero leaves it uncapped.
	Max time.Duration
	// Multiplier grows the wait after each failure. Values below 1 keep
	// the wait constant.
	Multiplier float64
	// AttemptTimeout bounds a single connect call. Zero means no bound
	// beyond the context.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns 5 attempts backing off from 2s to 60s.
func DefaultPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:    5,
		Initial:        2 * time.Second,
		Max:            60 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 5 * time.Second,
	}
}

// backOff returns a fresh, unjittered exponential schedule for p.
func (p ReconnectPolicy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval: p.Initial,
		Multiplier:      p.Multiplier,
		MaxInterval:     p.Max,
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.InitialInterval = min(b.InitialInterval, b.MaxInterval)
	b.Reset()
	return b
}

// Delay returns the wait after the given failed attempt, counting from 0.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	b := p.backOff()
	var d time.Duration
	for range attempt + 1 {
		d = b.NextBackOff()
	}
	return d
}

// Run calls connect until it succeeds, the attempts run out or ctx ends.
// It never sleeps after the final attempt.
func (p ReconnectPolicy) Run(ctx context.Context, connect func(context.Context) error) error {
	attempts := 0
	op := func() (struct{}, error) {
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		attempts++
		return struct{}{}, p.try(ctx, connect)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Debug("presence connect failed", "attempt", attempts, "retry_in", wait, "error", err)
		}),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(p.MaxAttempts)))
	}

	_, err := backoff.Retry(ctx, op, opts...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, attempts, err)
	}
	if attempts > 1 {
		slog.Info("presence reconnected", "attempts", attempts)
	}
	return nil
}

func (p ReconnectPolicy) try(ctx context.Context, connect func(context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return connect(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return connect(ctx)
}
