package backoff

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	// ErrRetriesExhausted is returned when the maximum number of retries has been reached.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrDeadlineExhausted is returned when the wall-clock budget since the
	// first attempt has been spent.
	ErrDeadlineExhausted = errors.New("deadline exhausted")
)

// Policy computes the wait before the next retry. Implementations are pure
// functions of (retryCount, elapsed, err): callers own all retry state.
type Policy interface {
	// ComputeNextInterval returns the duration to wait before the next retry,
	// or an error if no more retries should be attempted.
	ComputeNextInterval(retryCount int, elapsed time.Duration, err error) (time.Duration, error)
}

// JitterPolicy waits a fixed base plus a uniform random jitter between
// attempts, bounded by a retry budget and an optional wall-clock deadline
// measured from the first attempt.
type JitterPolicy struct {
	// Base is the fixed part of the wait.
	Base time.Duration
	// Jitter is the exclusive upper bound of the uniform random part.
	Jitter time.Duration
	// MaxRetries is the number of retries allowed after the first attempt.
	MaxRetries int
	// Deadline bounds total elapsed time since the first attempt. 0 means no deadline.
	Deadline time.Duration
}

// NewJitterPolicy creates a JitterPolicy from millisecond settings.
func NewJitterPolicy(baseMS, jitterMS int64, maxRetries int, deadlineMS int64) *JitterPolicy {
	return &JitterPolicy{
		Base:       time.Duration(baseMS) * time.Millisecond,
		Jitter:     time.Duration(jitterMS) * time.Millisecond,
		MaxRetries: maxRetries,
		Deadline:   time.Duration(deadlineMS) * time.Millisecond,
	}
}

// ComputeNextInterval implements Policy.
func (p *JitterPolicy) ComputeNextInterval(retryCount int, elapsed time.Duration, _ error) (time.Duration, error) {
	if retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	if p.Deadline > 0 && elapsed > p.Deadline {
		return 0, ErrDeadlineExhausted
	}
	interval := p.Base
	if p.Jitter > 0 {
		interval += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return interval, nil
}

// ExponentialPolicy doubles the interval after each retry up to a cap.
type ExponentialPolicy struct {
	// InitialInterval is the interval before the first retry.
	InitialInterval time.Duration
	// BackoffFactor is the growth factor applied per retry.
	BackoffFactor float64
	// MaxInterval caps the computed interval.
	MaxInterval time.Duration
	// MaxRetries is the maximum number of retries allowed. 0 means unlimited.
	MaxRetries int
}

// NewExponentialPolicy creates an ExponentialPolicy with stock settings.
func NewExponentialPolicy(initialInterval time.Duration) *ExponentialPolicy {
	return &ExponentialPolicy{
		InitialInterval: initialInterval,
		BackoffFactor:   2.0,
		MaxInterval:     10 * time.Second,
	}
}

// ComputeNextInterval implements Policy.
func (p *ExponentialPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	interval := float64(p.InitialInterval) * math.Pow(p.BackoffFactor, float64(retryCount))
	if interval > float64(p.MaxInterval) {
		interval = float64(p.MaxInterval)
	}
	return time.Duration(interval), nil
}

// ConstantPolicy waits the same interval between every retry.
type ConstantPolicy struct {
	Interval   time.Duration
	MaxRetries int
}

// ComputeNextInterval implements Policy.
func (p *ConstantPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	return p.Interval, nil
}
