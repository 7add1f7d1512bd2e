package backoff

import (
	"context"
	"time"
)

// Operation is a retriable unit of work.
type Operation func(ctx context.Context) error

// Retrier tracks retry state across attempts of a single operation.
type Retrier struct {
	policy      Policy
	retryCount  int
	startedAt   time.Time
	isRetriable func(error) bool
}

// NewRetrier creates a Retrier for the given policy. isRetriable may be nil,
// in which case every error is considered retriable.
func NewRetrier(policy Policy, isRetriable func(error) bool) *Retrier {
	return &Retrier{policy: policy, isRetriable: isRetriable}
}

// RetryCount returns the number of retries performed so far.
func (r *Retrier) RetryCount() int {
	return r.retryCount
}

// Start anchors deadline accounting at the beginning of the first attempt.
// Without it the clock starts at the first failure, excluding the first
// attempt's own duration from the elapsed budget.
func (r *Retrier) Start() {
	if r.startedAt.IsZero() {
		r.startedAt = time.Now()
	}
}

// Next returns the wait before the next retry of an operation that failed
// with err, or an error when retrying should stop.
func (r *Retrier) Next(err error) (time.Duration, error) {
	if r.isRetriable != nil && !r.isRetriable(err) {
		return 0, err
	}
	if r.startedAt.IsZero() {
		r.startedAt = time.Now()
	}
	interval, perr := r.policy.ComputeNextInterval(r.retryCount, time.Since(r.startedAt), err)
	if perr != nil {
		return 0, perr
	}
	r.retryCount++
	return interval, nil
}

// Retry runs op, retrying per policy until it succeeds, the policy gives up,
// or the context is done. The error from the policy (or the last operation
// error for non-retriable failures) is returned.
func Retry(ctx context.Context, op Operation, policy Policy, isRetriable func(error) bool) error {
	retrier := NewRetrier(policy, isRetriable)
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		interval, rerr := retrier.Next(err)
		if rerr != nil {
			return rerr
		}
		if werr := waitWithContext(ctx, interval); werr != nil {
			return werr
		}
	}
}

func waitWithContext(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
