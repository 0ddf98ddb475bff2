package chathub

import (
	"time"

	"teamdash/chat/internal/config"
)

// ReconnectPolicy is a bounded, linear backoff over the attempt count.
// The n-th retry (0-based) waits BaseDelay*(n+1). It is not safe for
// concurrent use; the owning Connection serialises access.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	attempts int
}

// NewReconnectPolicy returns the default policy: 5 attempts, 1s base delay.
func NewReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{
		MaxAttempts: config.MaxReconnectAttempts,
		BaseDelay:   config.BaseReconnectDelay,
	}
}

// Next reports the delay before the next retry and consumes one attempt.
// ok is false once the budget is exhausted.
func (p *ReconnectPolicy) Next() (delay time.Duration, ok bool) {
	if p.attempts >= p.MaxAttempts {
		return 0, false
	}
	delay = p.BaseDelay * time.Duration(p.attempts+1)
	p.attempts++
	return delay, true
}

// Reset is called after a successful connect.
func (p *ReconnectPolicy) Reset() { p.attempts = 0 }

// Attempts returns the number of retries consumed since the last Reset.
func (p *ReconnectPolicy) Attempts() int { return p.attempts }

// Exhausted reports whether no retry budget is left.
func (p *ReconnectPolicy) Exhausted() bool { return p.attempts >= p.MaxAttempts }
