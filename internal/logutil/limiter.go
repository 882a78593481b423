// Package logutil holds logging helpers shared by the engine's components.
package logutil

import (
	"sync"
	"time"
)

// Limiter lets one log line through per interval and counts the rest, so a
// flood of identical failures produces a single line with a tally.
type Limiter struct {
	mu         sync.Mutex
	interval   time.Duration
	last       time.Time
	suppressed int
	now        func() time.Time
}

// NewLimiter creates a limiter allowing one line per interval.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{interval: interval, now: time.Now}
}

// WithClock replaces the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow reports whether a line may be logged now and how many were
// suppressed since the last allowed one.
func (l *Limiter) Allow() (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < l.interval {
		l.suppressed++
		return false, 0
	}
	n := l.suppressed
	l.last = now
	l.suppressed = 0
	return true, n
}
