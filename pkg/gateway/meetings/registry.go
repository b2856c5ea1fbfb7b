// Package meetings keeps the process-wide index of meetings. Each meeting is
// either idle, in which case the registry itself applies REST mutations, or
// claimed by exactly one live session, which then owns the mutable state and
// publishes snapshots back here.
package meetings

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
)

type entry struct {
	snap     meeting.Snapshot
	claimed  bool
	released chan struct{}
}

type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	now     func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{entries: make(map[string]*entry), now: now}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and joins its alphanumeric runs with dashes.
func Slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// newID returns YYYY-MM-DD-<slug>, suffixed on collision. Caller holds mu.
func (r *Registry) newID(title string) string {
	slug := Slug(title)
	if slug == "" {
		slug = "meeting"
	}
	id := r.now().Format("2006-01-02") + "-" + slug
	for {
		if _, taken := r.entries[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s-%s", id, strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	}
}

// Create registers a new meeting in the preparing state. An empty ID is
// derived from the title and creation date.
func (r *Registry) Create(m meeting.Meeting) (meeting.Snapshot, error) {
	if i, dup := meeting.DuplicateName(m.Participants); dup {
		return meeting.Snapshot{}, core.NewInvalidRequestErrorWithParam(
			fmt.Sprintf("participant %q is listed more than once", m.Participants[i].Name),
			fmt.Sprintf("participants[%d].name", i))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(m.ID) == "" {
		m.ID = r.newID(m.Title)
	} else if _, taken := r.entries[m.ID]; taken {
		return meeting.Snapshot{}, core.NewConflictError(fmt.Sprintf("meeting %q already exists", m.ID))
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now().UTC()
	}
	m.Status = meeting.StatusPreparing
	for i := range m.Participants {
		if m.Participants[i].ID == "" {
			m.Participants[i].ID = meeting.NewParticipantID()
		}
		if m.Participants[i].Role == "" {
			m.Participants[i].Role = meeting.DefaultRole
		}
	}

	snap := meeting.NewState(m).Snapshot()
	r.entries[m.ID] = &entry{snap: snap}
	r.order = append(r.order, m.ID)
	return snap, nil
}

// Put inserts or replaces an idle meeting, for example one loaded from
// storage. A claimed meeting is left untouched.
func (r *Registry) Put(snap meeting.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[snap.ID]
	if !ok {
		r.entries[snap.ID] = &entry{snap: snap}
		r.order = append(r.order, snap.ID)
		return nil
	}
	if e.claimed {
		return core.NewConflictError(fmt.Sprintf("meeting %q has a live session", snap.ID))
	}
	e.snap = snap
	return nil
}

func (r *Registry) Get(id string) (meeting.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return meeting.Snapshot{}, false
	}
	return e.snap, true
}

// List returns meetings in creation order.
func (r *Registry) List() []meeting.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]meeting.Snapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].snap)
	}
	return out
}

// Live reports whether a session currently owns the meeting.
func (r *Registry) Live(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.claimed
}

// Update applies fn to an idle meeting and stores the result.
func (r *Registry) Update(id string, fn func(*meeting.State) error) (meeting.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return meeting.Snapshot{}, core.NewNotFoundError(fmt.Sprintf("meeting %q not found", id))
	}
	if e.claimed {
		return meeting.Snapshot{}, core.NewConflictError(fmt.Sprintf("meeting %q has a live session", id))
	}
	st := meeting.Restore(e.snap)
	if err := fn(st); err != nil {
		return meeting.Snapshot{}, err
	}
	e.snap = st.Snapshot()
	return e.snap, nil
}

// Claim hands ownership of a meeting to a live session. A missing meeting is
// created on the fly with the id as its title. The returned release must be
// called exactly once when the session ends.
func (r *Registry) Claim(id string) (*meeting.State, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		m := meeting.Meeting{ID: id, Title: id, Status: meeting.StatusPreparing, CreatedAt: r.now().UTC()}
		e = &entry{snap: meeting.NewState(m).Snapshot()}
		r.entries[id] = e
		r.order = append(r.order, id)
	}
	if e.claimed {
		return nil, nil, core.NewConflictError(fmt.Sprintf("meeting %q already has a live session", id))
	}
	e.claimed = true
	e.released = make(chan struct{})
	released := e.released

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			e.claimed = false
			r.mu.Unlock()
			close(released)
		})
	}
	return meeting.Restore(e.snap), release, nil
}

// Publish records the latest snapshot from the owning session.
func (r *Registry) Publish(snap meeting.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[snap.ID]; ok {
		e.snap = snap
	}
}

// WaitReleased blocks until the meeting has no live session.
func (r *Registry) WaitReleased(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || !e.claimed {
		r.mu.Unlock()
		return nil
	}
	released := e.released
	r.mu.Unlock()

	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
