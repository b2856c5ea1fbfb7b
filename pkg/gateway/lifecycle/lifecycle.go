package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle tracks whether the process is draining. Readiness fails and new
// meeting sockets are refused from the moment draining starts.
type Lifecycle struct {
	since atomic.Pointer[time.Time]
}

// SetDraining starts or stops draining. Repeated starts keep the first
// timestamp.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if !draining {
		l.since.Store(nil)
		return
	}
	now := time.Now().UTC()
	l.since.CompareAndSwap(nil, &now)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.since.Load() != nil
}

// DrainingSince reports when draining started.
func (l *Lifecycle) DrainingSince() (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	if t := l.since.Load(); t != nil {
		return *t, true
	}
	return time.Time{}, false
}
