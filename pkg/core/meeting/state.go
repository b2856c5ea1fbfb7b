package meeting

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// State is the single-owner mutable store of one meeting. It is not safe for
// concurrent use: exactly one goroutine (the session coordinator, or a
// registry holding the meeting while no session is live) mutates it, and every
// other reader works from a Snapshot.
type State struct {
	meeting       Meeting
	byName        map[string]int
	transcript    []TranscriptEntry
	seen          map[string]struct{}
	interventions []Intervention
	parkingLot    []string
	parked        map[string]struct{}
}

// NewState seeds a store from preparation metadata. Participant counters are
// reset; they are derived from the transcript from here on.
func NewState(m Meeting) *State {
	s := &State{
		meeting: m,
		byName:  make(map[string]int, len(m.Participants)),
		seen:    make(map[string]struct{}),
		parked:  make(map[string]struct{}),
	}
	s.meeting.Principles = append([]Principle(nil), m.Principles...)
	s.meeting.Participants = make([]Participant, 0, len(m.Participants))
	for _, p := range m.Participants {
		p.SpeakingCount = 0
		p.SpeakingTime = 0
		s.addParticipant(p)
	}
	if s.meeting.Status == "" {
		s.meeting.Status = StatusPreparing
	}
	return s
}

// Restore rebuilds a store from a persisted snapshot, replaying the
// transcript so participant counters stay consistent with it.
func Restore(snap Snapshot) *State {
	s := NewState(snap.Meeting)
	for _, e := range snap.Transcript {
		s.AppendTranscript(e)
	}
	for _, iv := range snap.Interventions {
		s.AppendIntervention(iv)
	}
	for _, item := range snap.ParkingLot {
		s.park(item)
	}
	return s
}

func (s *State) ID() string { return s.meeting.ID }

func (s *State) Status() Status { return s.meeting.Status }

// Start moves a preparing meeting to in_progress.
func (s *State) Start(now time.Time) error {
	if s.meeting.Status != StatusPreparing {
		return fmt.Errorf("meeting %s is %s", s.meeting.ID, s.meeting.Status)
	}
	s.meeting.Status = StatusInProgress
	started := now.UTC()
	s.meeting.StartedAt = &started
	return nil
}

// End completes the meeting. Ending a completed meeting is a no-op.
func (s *State) End(now time.Time) {
	if s.meeting.Status == StatusCompleted {
		return
	}
	if s.meeting.StartedAt == nil {
		started := now.UTC()
		s.meeting.StartedAt = &started
	}
	s.meeting.Status = StatusCompleted
	ended := now.UTC()
	s.meeting.EndedAt = &ended
}

// AppendTranscript appends e and credits its speaker. Speakers missing from
// the roster are registered with DefaultRole so counts always sum to the
// number of entries. Re-appending an ID already seen is a no-op and returns
// false.
func (s *State) AppendTranscript(e TranscriptEntry) bool {
	if e.ID == "" {
		e.ID = NewTranscriptID()
	}
	if _, dup := s.seen[e.ID]; dup {
		return false
	}
	speaker := strings.TrimSpace(e.Speaker)
	if speaker == "" {
		speaker = UnknownSpeaker
	}
	e.Speaker = speaker

	idx, ok := s.byName[speakerKey(speaker)]
	if !ok {
		idx = s.addParticipant(Participant{ID: NewParticipantID(), Name: speaker, Role: DefaultRole})
	}
	p := &s.meeting.Participants[idx]
	p.SpeakingCount++
	if e.Duration > 0 {
		p.SpeakingTime += e.Duration
	}

	s.seen[e.ID] = struct{}{}
	s.transcript = append(s.transcript, e)
	return true
}

// AppendIntervention records iv and folds its parking-lot item into the
// deduplicated parking lot. The timestamp is clamped so the log never goes
// backwards.
func (s *State) AppendIntervention(iv Intervention) Intervention {
	if n := len(s.interventions); n > 0 {
		if last := s.interventions[n-1].Timestamp; iv.Timestamp.Before(last) {
			iv.Timestamp = last
		}
	}
	s.interventions = append(s.interventions, iv)
	s.park(iv.ParkingLotItem)
	return iv
}

// AddParkingLotItem defers a topic outside of any intervention.
func (s *State) AddParkingLotItem(item string) bool {
	return s.park(item)
}

func (s *State) park(item string) bool {
	item = strings.TrimSpace(item)
	if item == "" {
		return false
	}
	key := strings.ToLower(item)
	if _, ok := s.parked[key]; ok {
		return false
	}
	s.parked[key] = struct{}{}
	s.parkingLot = append(s.parkingLot, item)
	return true
}

func (s *State) addParticipant(p Participant) int {
	if p.Role == "" {
		p.Role = DefaultRole
	}
	if p.ID == "" {
		p.ID = NewParticipantID()
	}
	key := speakerKey(p.Name)
	if idx, ok := s.byName[key]; ok {
		return idx
	}
	s.meeting.Participants = append(s.meeting.Participants, p)
	idx := len(s.meeting.Participants) - 1
	s.byName[key] = idx
	return idx
}

// Snapshot returns a read-only view. Transcript and intervention slices share
// backing arrays with the store but are capped, so later appends never become
// visible through them; participants are copied because their counters move.
func (s *State) Snapshot() Snapshot {
	m := s.meeting
	m.Participants = append([]Participant(nil), s.meeting.Participants...)
	m.Principles = s.meeting.Principles[:len(s.meeting.Principles):len(s.meeting.Principles)]
	return Snapshot{
		Meeting:       m,
		Transcript:    s.transcript[:len(s.transcript):len(s.transcript)],
		Interventions: s.interventions[:len(s.interventions):len(s.interventions)],
		ParkingLot:    s.parkingLot[:len(s.parkingLot):len(s.parkingLot)],
	}
}

// DuplicateName returns the index of the first participant whose name
// repeats an earlier one. Names are compared the way transcript speakers are
// matched to the roster.
func DuplicateName(ps []Participant) (int, bool) {
	seen := make(map[string]struct{}, len(ps))
	for i, p := range ps {
		key := speakerKey(p.Name)
		if _, dup := seen[key]; dup {
			return i, true
		}
		seen[key] = struct{}{}
	}
	return 0, false
}

func speakerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Snapshot is an immutable view of a meeting at one point in time.
type Snapshot struct {
	Meeting
	Transcript    []TranscriptEntry `json:"transcript"`
	Interventions []Intervention    `json:"interventions"`
	ParkingLot    []string          `json:"parking_lot"`
}

// Recent returns at most the last n transcript entries.
func (s Snapshot) Recent(n int) []TranscriptEntry {
	if n <= 0 || len(s.Transcript) == 0 {
		return nil
	}
	if n > len(s.Transcript) {
		n = len(s.Transcript)
	}
	return s.Transcript[len(s.Transcript)-n:]
}

// TotalUtterances sums the participants' speaking counts.
func (s Snapshot) TotalUtterances() int {
	total := 0
	for _, p := range s.Participants {
		total += p.SpeakingCount
	}
	return total
}

// SpeakerStat is the per-speaker share reported to clients.
type SpeakerStat struct {
	Percentage   int     `json:"percentage"`
	SpeakingTime float64 `json:"speakingTime"`
	Count        int     `json:"count"`
}

// SpeakerStats keys stats by participant name. It is empty until someone has
// spoken.
func (s Snapshot) SpeakerStats() map[string]SpeakerStat {
	total := s.TotalUtterances()
	if total == 0 {
		return map[string]SpeakerStat{}
	}
	out := make(map[string]SpeakerStat, len(s.Participants))
	for _, p := range s.Participants {
		out[p.Name] = SpeakerStat{
			Percentage:   int(math.Round(float64(p.SpeakingCount) / float64(total) * 100)),
			SpeakingTime: p.SpeakingTime,
			Count:        p.SpeakingCount,
		}
	}
	return out
}

// PrincipleNames lists declared principle names in order.
func (s Snapshot) PrincipleNames() []string {
	out := make([]string, 0, len(s.Principles))
	for _, p := range s.Principles {
		if name := strings.TrimSpace(p.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
