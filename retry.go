package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy controls how transient failures are retried. Terminal failures
// are never retried.
type RetryPolicy struct {
	// MaxAttempts bounds the number of calls. Zero means unbounded, limited
	// only by MaxElapsedTime.
	MaxAttempts uint
	// InitialInterval is the first backoff delay. Zero retries immediately.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// MaxElapsedTime bounds the total time spent retrying. Zero means no bound.
	MaxElapsedTime time.Duration
	// AttemptTimeout bounds a single call. An expired attempt is transient.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy is used for forward steps unless WithRetryPolicy is given.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		MaxElapsedTime:  time.Minute,
	}
}

// NoRetry makes a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.InitialInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.Reset()
	return b
}

// retryNotify is called before every retry with the failed attempt number.
type retryNotify func(attempt int, err error, next time.Duration)

// Do calls op until it succeeds, fails terminally, or the budget runs out.
// It returns the number of attempts made. A transient failure that exhausts
// the budget is returned as a terminal error wrapping ErrRetryExhausted.
// When ctx ends, the returned error is terminal.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error, notify retryNotify) (int, error) {
	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := op(attemptCtx, attempts)
		cancel()
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(Terminal(err))
		}
		if errors.Is(err, context.DeadlineExceeded) && !isMarkedTerminal(err) {
			// The attempt ran out of time while the caller is still waiting.
			err = Transient(err)
		}
		if KindOf(err) != KindTransient {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithMaxElapsedTime(p.MaxElapsedTime),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			notify(attempts, err, next)
		}))
	}

	_, err := backoff.Retry(ctx, operation, opts...)
	if err == nil {
		return attempts, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if KindOf(err) == KindTransient {
		return attempts, Terminal(fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err))
	}
	return attempts, err
}

func isMarkedTerminal(err error) bool {
	var terminal *TerminalError
	return errors.As(err, &terminal)
}

// CompensationPolicy controls how undo actions are run.
//
// Only transient undo failures are retried, and only within Retry's budget.
// A failure left over is recorded on the instance, reported in the SagaError
// and handed to OnFailure; it is never retried again on resume.
type CompensationPolicy struct {
	Retry RetryPolicy
	// OnFailure is called once per compensation that could not complete,
	// so it can be escalated for manual remediation.
	OnFailure func(ctx context.Context, instanceID string, failure CompensationFailure)
}

// DefaultCompensationPolicy makes a single undo attempt per step.
func DefaultCompensationPolicy() CompensationPolicy {
	return CompensationPolicy{Retry: NoRetry()}
}
