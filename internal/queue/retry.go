package queue

import "time"

const (
	defaultMaxAttempts = 2
	defaultRetryDelay  = 5 * time.Second
	exhaustedFactor    = 4
)

// RetryPolicy decides whether and when a failed attempt is retried.
// attempt is the number of attempts already made (1 after the first failure).
type RetryPolicy interface {
	ShouldRetry(attempt int, kind ErrorKind) bool
	BackoffDelay(attempt int, kind ErrorKind) time.Duration
}

// FixedRetryPolicy retries transient and resource-exhausted failures up to
// MaxAttempts total attempts with a fixed delay.
type FixedRetryPolicy struct {
	MaxAttempts    int
	Delay          time.Duration
	ExhaustedDelay time.Duration
}

// DefaultRetryPolicy allows one retry after 5s (20s for resource exhaustion).
func DefaultRetryPolicy() FixedRetryPolicy {
	return FixedRetryPolicy{
		MaxAttempts:    defaultMaxAttempts,
		Delay:          defaultRetryDelay,
		ExhaustedDelay: exhaustedFactor * defaultRetryDelay,
	}
}

func (p FixedRetryPolicy) ShouldRetry(attempt int, kind ErrorKind) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	if attempt >= max {
		return false
	}
	switch kind {
	case KindTransient, KindResourceExhausted:
		return true
	default:
		return false
	}
}

func (p FixedRetryPolicy) BackoffDelay(_ int, kind ErrorKind) time.Duration {
	if kind == KindResourceExhausted {
		if p.ExhaustedDelay > 0 {
			return p.ExhaustedDelay
		}
		return exhaustedFactor * p.Delay
	}
	return p.Delay
}
