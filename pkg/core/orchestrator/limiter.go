package orchestrator

import "time"

// Limiter enforces a minimum interval between emitted interventions. It is
// not safe for concurrent use; the Orchestrator serializes access.
type Limiter struct {
	interval time.Duration
	last     time.Time
}

func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// Allow reports whether an emission at now would respect the interval.
func (l *Limiter) Allow(now time.Time) bool {
	if l.last.IsZero() {
		return true
	}
	return now.Sub(l.last) >= l.interval
}

// Record marks an emission and returns its timestamp, clamped so that it never
// precedes the previous one.
func (l *Limiter) Record(now time.Time) time.Time {
	if now.Before(l.last) {
		now = l.last
	}
	l.last = now
	return now
}

// Last returns the time of the most recent emission.
func (l *Limiter) Last() time.Time { return l.last }
