package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLimiterBoundsSessions(t *testing.T) {
	limiter := newSessionLimiter(2)
	assert.True(t, limiter.TryAcquire(1))
	assert.True(t, limiter.TryAcquire(1))
	assert.False(t, limiter.TryAcquire(1))

	limiter.Release(1)
	assert.True(t, limiter.TryAcquire(1))
}

func TestSessionLimiterDefault(t *testing.T) {
	limiter := newSessionLimiter(0)
	assert.True(t, limiter.TryAcquire(defaultMaxSessions))
	assert.False(t, limiter.TryAcquire(1))
}
