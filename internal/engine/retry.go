package engine

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Retry defaults, applied when the corresponding config knob is zero.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
)

// Decision is the outcome of consulting the retry policy after a failed
// attempt.
type Decision struct {
	Retry  bool
	After  time.Duration
	Reason string
}

// RetryPolicy decides whether a failed fetch is re-enqueued. It is pure and
// stateless given (attempt count, failure kind); the attempt count lives on
// the Job.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy, substituting defaults for zero values.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts returns the configured attempt cap.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Decide returns the action for a job whose attempt number `attempt`
// (1-based) just failed with err.
func (p *RetryPolicy) Decide(attempt int, err error) Decision {
	if !Retryable(err) {
		return Decision{Reason: fmt.Sprintf("%s failure is not retryable", KindOf(err))}
	}
	if attempt >= p.maxAttempts {
		return Decision{Reason: fmt.Sprintf("attempt limit %d reached", p.maxAttempts)}
	}
	delay := p.Backoff(attempt)
	if hint := RetryAfterHint(err); hint > delay {
		delay = hint
		if delay > p.maxDelay {
			delay = p.maxDelay
		}
	}
	return Decision{Retry: true, After: delay, Reason: "retryable failure"}
}

// Backoff returns the jittered wait before attempt+1. The result lies in
// [d/2, d] where d = baseDelay * 2^(attempt-1), capped at maxDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
