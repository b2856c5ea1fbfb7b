// Package sessions tracks live meeting sessions so the server can reach them
// from REST handlers and during shutdown.
package sessions

import (
	"context"
	"sync"
)

// Handle is what a live session exposes to the rest of the process.
type Handle struct {
	Cancel func()
	Notify func(code, message string) error
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*trackedSession)}
}

// Register tracks the session for meetingID. A session already registered
// under the same meeting is replaced and canceled.
func (t *Tracker) Register(meetingID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[meetingID]
	t.sessions[meetingID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		if old.handle.Cancel != nil {
			old.handle.Cancel()
		}
		t.unregister(meetingID, old)
	}
	return func() { t.unregister(meetingID, entry) }
}

func (t *Tracker) unregister(meetingID string, entry *trackedSession) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[meetingID] == entry {
			delete(t.sessions, meetingID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Cancel stops the live session of one meeting. It reports whether one was
// running.
func (t *Tracker) Cancel(meetingID string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	entry := t.sessions[meetingID]
	t.mu.Unlock()
	if entry == nil || entry.handle.Cancel == nil {
		return false
	}
	entry.handle.Cancel()
	return true
}

func (t *Tracker) handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.sessions))
	for _, entry := range t.sessions {
		out = append(out, entry.handle)
	}
	return out
}

// NotifyAll sends an error event to every live session.
func (t *Tracker) NotifyAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Notify == nil {
			continue
		}
		if h.Notify(code, message) == nil {
			sent++
		}
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
