package uploader

import (
	"math/rand"
	"time"
)

// Retry policy defaults. 5xx and 429 responses plus network errors and
// timeouts are retried; other 4xx rejections stop immediately.
const (
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultMultiplier  = 2.0
)

// RetryPolicy is the backoff configuration for an upload attempt sequence.
// Read-only after construction.
type RetryPolicy struct {
	// MaxAttempts bounds the number of network calls per payload.
	MaxAttempts int
	// BaseDelay is the pre-jitter delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the pre-jitter delay growth.
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor between attempts.
	Multiplier float64
	// Jitter maps a computed delay to the actual sleep duration.
	// Nil selects a uniform value in [delay/2, delay).
	Jitter func(time.Duration) time.Duration
}

// withDefaults fills zero fields with the package defaults.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

// Delay computes the pre-jitter backoff delay after the given attempt
// number (1-based). The value is recomputed from the attempt number alone,
// grows exponentially, and is non-decreasing up to MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// jittered applies the policy's jitter to a computed delay.
func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter != nil {
		return p.Jitter(d)
	}
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d-half)))
}

// RetryState tracks one payload's attempt sequence. It is created per
// Upload call and discarded on the terminal outcome.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	NextDelay   time.Duration
	LastType    ErrorType
}

// newRetryState initializes the state for a fresh attempt sequence.
func newRetryState(p RetryPolicy) *RetryState {
	return &RetryState{MaxAttempts: p.MaxAttempts}
}

// next records a failed attempt and computes the delay before the
// following one. It returns false when the budget is exhausted or the
// failure is not retryable.
func (s *RetryState) next(p RetryPolicy, errType ErrorType) bool {
	s.LastType = errType
	if !errType.Retryable() {
		return false
	}
	if s.Attempt >= s.MaxAttempts {
		return false
	}
	s.NextDelay = p.Delay(s.Attempt)
	return true
}
