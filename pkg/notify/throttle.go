// Package notify gates and delivers chat-list alerts.
package notify

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum spacing between two alerts.
const DefaultCooldown = 2000 * time.Millisecond

// Throttle lets at most one alert through per cooldown window.
type Throttle struct {
	cooldown time.Duration

	mu        sync.Mutex
	lastFired time.Time
	fired     bool
}

// NewThrottle returns a throttle with the given cooldown; non-positive values
// fall back to DefaultCooldown.
func NewThrottle(cooldown time.Duration) *Throttle {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	return &Throttle{cooldown: cooldown}
}

// ShouldFire reports whether an alert may fire at now. It records now as the
// last firing only when it returns true.
func (t *Throttle) ShouldFire(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fired && now.Sub(t.lastFired) < t.cooldown {
		return false
	}

	t.lastFired = now
	t.fired = true
	return true
}

// Cooldown returns the configured window.
func (t *Throttle) Cooldown() time.Duration {
	return t.cooldown
}
