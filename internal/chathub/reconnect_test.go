package chathub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"teamdash/chat/internal/chathub"
)

func TestReconnectPolicy_LinearDelays(t *testing.T) {
	p := chathub.NewReconnectPolicy()

	for i := 1; i <= 5; i++ {
		d, ok := p.Next()
		assert.True(t, ok, "attempt %d", i)
		assert.Equal(t, time.Duration(i)*time.Second, d)
	}
	d, ok := p.Next()
	assert.False(t, ok)
	assert.Zero(t, d)
	assert.True(t, p.Exhausted())
	assert.Equal(t, 5, p.Attempts())
}

func TestReconnectPolicy_Reset(t *testing.T) {
	p := &chathub.ReconnectPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond}
	p.Next()
	p.Next()
	assert.True(t, p.Exhausted())

	p.Reset()
	assert.Equal(t, 0, p.Attempts())
	d, ok := p.Next()
	assert.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, d)
}
