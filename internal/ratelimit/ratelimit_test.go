package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_UnderLimit(t *testing.T) {
	limiter := NewEventLimiter(time.Minute, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(1), "event %d should be allowed", i)
	}
}

func TestAllow_OverLimit(t *testing.T) {
	limiter := NewEventLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(1))
	}
	assert.False(t, limiter.Allow(1), "fourth event should be denied")
}

func TestAllow_UsersAreIndependent(t *testing.T) {
	limiter := NewEventLimiter(time.Minute, 2)

	assert.True(t, limiter.Allow(1))
	assert.True(t, limiter.Allow(1))
	assert.False(t, limiter.Allow(1))

	// A different user is unaffected by user 1's exhaustion
	assert.True(t, limiter.Allow(2))
}

func TestAllow_WindowSlides(t *testing.T) {
	limiter := NewEventLimiter(50*time.Millisecond, 2)

	assert.True(t, limiter.Allow(1))
	assert.True(t, limiter.Allow(1))
	assert.False(t, limiter.Allow(1))

	// After the window passes, events are admitted again
	time.Sleep(60 * time.Millisecond)
	assert.True(t, limiter.Allow(1))
}

func TestRetryAfter_UnderLimit(t *testing.T) {
	limiter := NewEventLimiter(time.Minute, 5)
	limiter.Allow(1)

	// Below the limit, minimum retry advice applies
	assert.Equal(t, 1000, limiter.RetryAfter(1))
}

func TestRetryAfter_AtLimit(t *testing.T) {
	limiter := NewEventLimiter(time.Minute, 2)
	limiter.Allow(1)
	limiter.Allow(1)

	retryAfter := limiter.RetryAfter(1)

	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, int(time.Minute.Milliseconds()))
}

func TestForget_DropsHistory(t *testing.T) {
	limiter := NewEventLimiter(time.Minute, 1)

	assert.True(t, limiter.Allow(1))
	assert.False(t, limiter.Allow(1))

	limiter.Forget(1)

	assert.True(t, limiter.Allow(1), "history forgotten, event should be allowed")
}

func TestCleanup_RemovesExpiredUsers(t *testing.T) {
	limiter := NewEventLimiter(10*time.Millisecond, 5)
	limiter.Allow(1)
	limiter.Allow(2)

	time.Sleep(20 * time.Millisecond)
	limiter.cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	assert.Empty(t, limiter.events)
}

func TestStartStopCleanup(t *testing.T) {
	limiter := NewEventLimiter(time.Minute, 5)
	limiter.StartCleanup()

	// Must return without hanging
	limiter.StopCleanup()
}

func TestAllow_ConcurrentAccess(t *testing.T) {
	limiter := NewEventLimiter(time.Minute, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				limiter.Allow(userID)
			}
		}(int64(i % 3))
	}
	wg.Wait()

	// 1000-per-user limit: no user saw more than the cap
	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	for userID, timestamps := range limiter.events {
		assert.LessOrEqual(t, len(timestamps), 1000, "user %d", userID)
	}
}
