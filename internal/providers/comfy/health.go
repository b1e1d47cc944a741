package comfy

import (
	"sync"
	"time"
)

// HealthTracker counts consecutive engine failures and remembers the last
// time the engine answered a probe. One tracker belongs to one Engine; the
// state is in-memory only, so separate processes track independently.
type HealthTracker struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastHealthyAt       time.Time
	now                 func() time.Time
}

// NewHealthTracker returns a tracker with zero failures and no healthy
// observation yet.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{now: time.Now}
}

// RecordSuccess resets the failure streak and stamps the healthy timestamp.
func (t *HealthTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveFailures = 0
	t.lastHealthyAt = t.now()
}

// RecordFailure extends the failure streak and returns its new length.
func (t *HealthTracker) RecordFailure() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveFailures++
	return t.consecutiveFailures
}

// ConsecutiveFailures returns the current streak length.
func (t *HealthTracker) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveFailures
}

// IsUnhealthy reports whether the streak has reached the threshold.
func (t *HealthTracker) IsUnhealthy(threshold int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveFailures >= threshold
}

// RecentlyHealthy reports whether a successful observation happened within
// the window, letting callers skip a live probe.
func (t *HealthTracker) RecentlyHealthy(window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastHealthyAt.IsZero() {
		return false
	}
	return t.now().Sub(t.lastHealthyAt) < window
}
