// Package ratelimit provides rate limiting for inbound relay events.
// It implements a sliding window algorithm to prevent a single user from
// flooding the relay.
package ratelimit

import (
	"sync"
	"time"

	"github.com/real-rm/chatrelay/internal/constants"
)

// EventLimiter limits the rate of events per user using a sliding window.
type EventLimiter struct {
	events map[int64][]time.Time // userID -> timestamps
	window time.Duration
	limit  int
	mu     sync.RWMutex

	// Cleanup goroutine management
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupWg       sync.WaitGroup
}

// NewEventLimiter creates a new event rate limiter.
// window: time window for rate limiting (e.g., 1 minute)
// limit: maximum number of events allowed in the window
func NewEventLimiter(window time.Duration, limit int) *EventLimiter {
	return &EventLimiter{
		events:          make(map[int64][]time.Time),
		window:          window,
		limit:           limit,
		cleanupInterval: constants.DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
}

// Allow checks if an event is allowed for the user and records it if so.
func (el *EventLimiter) Allow(userID int64) bool {
	el.mu.Lock()
	defer el.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-el.window)

	// Drop timestamps outside the window
	timestamps := el.events[userID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	// No else needed: early return pattern (guard clause)
	if len(valid) >= el.limit {
		el.events[userID] = valid
		return false
	}

	// Cap per-user history to bound memory even under clock anomalies
	if len(valid) >= constants.MaxEventsPerUser {
		valid = valid[len(valid)-constants.MaxEventsPerUser+1:]
	}

	el.events[userID] = append(valid, now)
	return true
}

// RetryAfter returns the suggested wait in milliseconds before the next
// event would be admitted for the user.
func (el *EventLimiter) RetryAfter(userID int64) int {
	el.mu.RLock()
	defer el.mu.RUnlock()

	timestamps := el.events[userID]
	// No else needed: early return pattern (guard clause)
	if len(timestamps) < el.limit {
		return constants.MinRetryAfterSeconds * constants.MillisecondsPerSecond
	}

	oldest := timestamps[len(timestamps)-el.limit]
	wait := el.window - time.Since(oldest)
	if wait <= 0 {
		return constants.MinRetryAfterSeconds * constants.MillisecondsPerSecond
	}
	return int(wait.Milliseconds())
}

// Forget drops the tracked history for a user (called on disconnect).
func (el *EventLimiter) Forget(userID int64) {
	el.mu.Lock()
	defer el.mu.Unlock()
	delete(el.events, userID)
}

// StartCleanup launches a background goroutine that periodically removes
// users whose entire history fell outside the window.
func (el *EventLimiter) StartCleanup() {
	el.cleanupWg.Add(1)
	go func() {
		defer el.cleanupWg.Done()
		ticker := time.NewTicker(el.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				el.cleanup()
			case <-el.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine and waits for it to exit.
func (el *EventLimiter) StopCleanup() {
	close(el.stopCleanup)
	el.cleanupWg.Wait()
}

func (el *EventLimiter) cleanup() {
	el.mu.Lock()
	defer el.mu.Unlock()

	cutoff := time.Now().Add(-el.window)
	for userID, timestamps := range el.events {
		valid := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				valid = append(valid, ts)
			}
		}
		if len(valid) == 0 {
			delete(el.events, userID)
		} else {
			el.events[userID] = valid
		}
	}

	// Hard cap on distinct users tracked; reset if exceeded
	if len(el.events) > constants.MaxUsersTracked {
		el.events = make(map[int64][]time.Time)
	}
}
