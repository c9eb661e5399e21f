package synchronizer

import (
	"math/rand"
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy hands out exponential reconnect delays, min(base*2^attempt, cap),
// each stretched by up to jitter*delay. It is not safe for concurrent use.
type RetryPolicy struct {
	backoff     *backoff.Backoff
	maxAttempts int
	jitter      float64
	attempt     int
	random      func() float64
}

func NewRetryPolicy(base, ceiling time.Duration, maxAttempts int, jitter float64) *RetryPolicy {
	return &RetryPolicy{
		backoff: &backoff.Backoff{
			Min:    base,
			Max:    ceiling,
			Factor: 2,
		},
		maxAttempts: maxAttempts,
		jitter:      jitter,
		random:      rand.Float64,
	}
}

// Next records a failure and returns the delay to wait before retrying.
// It reports false once maxAttempts retries were handed out, so a policy with
// maxAttempts <= 0 never retries.
func (p *RetryPolicy) Next() (time.Duration, bool) {
	if p.attempt >= p.maxAttempts {
		return 0, false
	}

	delay := p.Delay(p.attempt)
	p.attempt++
	return delay, true
}

// Delay returns the jittered delay for the zero-based attempt.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.backoff.ForAttempt(float64(attempt))
	if p.jitter > 0 {
		delay += time.Duration(p.random() * p.jitter * float64(delay))
	}
	return delay
}

func (p *RetryPolicy) Attempt() int {
	return p.attempt
}

func (p *RetryPolicy) Reset() {
	p.attempt = 0
}
