package results

import "time"

// Unbounded disables the attempt ceiling of a RetryPolicy.
const Unbounded = 0

// DefaultRetryDelay is the pause between attempts of one roll.
const DefaultRetryDelay = 2 * time.Second

// RetryPolicy retries with a constant delay. MaxAttempts == Unbounded keeps
// retrying until the job reaches a terminal outcome.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// NewConstantRetryPolicy builds an unbounded policy with the given delay.
func NewConstantRetryPolicy(delay time.Duration) RetryPolicy {
	if delay < 0 {
		delay = 0
	}
	return RetryPolicy{MaxAttempts: Unbounded, Delay: delay}
}

// DefaultRetryPolicy retries forever every two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return NewConstantRetryPolicy(DefaultRetryDelay)
}

// WithMaxAttempts returns a copy capped at n attempts (n <= 0 means unbounded).
func (p RetryPolicy) WithMaxAttempts(n int) RetryPolicy {
	if n < 0 {
		n = Unbounded
	}
	p.MaxAttempts = n
	return p
}

// Bounded reports whether the policy has an attempt ceiling.
func (p RetryPolicy) Bounded() bool {
	return p.MaxAttempts > 0
}

// ShouldRetry reports whether another attempt follows the failed attempt number
// attempt (1-based).
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	if !p.Bounded() {
		return true
	}
	return attempt < p.MaxAttempts
}

// Backoff returns the wait before the next attempt. The delay is constant.
func (p RetryPolicy) Backoff(int) time.Duration {
	return p.Delay
}
