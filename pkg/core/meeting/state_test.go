package meeting

import (
	"strings"
	"testing"
	"time"
)

func newTestState() *State {
	return NewState(Meeting{
		ID:     "2026-01-05-planning",
		Title:  "Planning",
		Agenda: "Q1 roadmap",
		Participants: []Participant{
			{ID: "p1", Name: "Alice", Role: "host", SpeakingCount: 7},
			{ID: "p2", Name: "Bob", Role: "engineer"},
		},
	})
}

func TestState_CountsSumToEntries(t *testing.T) {
	s := newTestState()
	speakers := []string{"Alice", "bob", "Alice", "Carol", "", "Alice"}
	for i, sp := range speakers {
		s.AppendTranscript(TranscriptEntry{ID: NewTranscriptID(), Speaker: sp, Text: "line", Duration: float64(i)})
	}

	snap := s.Snapshot()
	if got := snap.TotalUtterances(); got != len(speakers) {
		t.Fatalf("total=%d, want %d", got, len(speakers))
	}
	if len(snap.Transcript) != len(speakers) {
		t.Fatalf("entries=%d", len(snap.Transcript))
	}

	counts := map[string]int{}
	for _, p := range snap.Participants {
		counts[p.Name] = p.SpeakingCount
	}
	if counts["Alice"] != 3 || counts["Bob"] != 1 || counts["Carol"] != 1 || counts[UnknownSpeaker] != 1 {
		t.Fatalf("counts=%v", counts)
	}
	if snap.Transcript[1].Speaker != "bob" {
		t.Fatalf("speaker label should be kept as given, got %q", snap.Transcript[1].Speaker)
	}
}

func TestState_AppendTranscriptIdempotentByID(t *testing.T) {
	s := newTestState()
	e := TranscriptEntry{ID: "tr_aaaaaaaa", Speaker: "Alice", Text: "hello"}
	if !s.AppendTranscript(e) {
		t.Fatalf("first append returned false")
	}
	if s.AppendTranscript(e) {
		t.Fatalf("duplicate append returned true")
	}
	snap := s.Snapshot()
	if len(snap.Transcript) != 1 || snap.TotalUtterances() != 1 {
		t.Fatalf("entries=%d total=%d", len(snap.Transcript), snap.TotalUtterances())
	}
}

func TestState_ImplicitSpeakerGetsDefaultRole(t *testing.T) {
	s := newTestState()
	s.AppendTranscript(TranscriptEntry{ID: "tr_1", Speaker: "Dana", Text: "hi"})

	snap := s.Snapshot()
	last := snap.Participants[len(snap.Participants)-1]
	if last.Name != "Dana" || last.Role != DefaultRole || !strings.HasPrefix(last.ID, "p_") {
		t.Fatalf("participant=%+v", last)
	}
}

func TestState_SnapshotIsIsolatedFromLaterWrites(t *testing.T) {
	s := newTestState()
	s.AppendTranscript(TranscriptEntry{ID: "tr_1", Speaker: "Alice", Text: "one"})
	snap := s.Snapshot()

	s.AppendTranscript(TranscriptEntry{ID: "tr_2", Speaker: "Alice", Text: "two"})
	s.AppendIntervention(Intervention{ID: "int_1", Kind: KindTopicDrift, ParkingLotItem: "lunch"})

	if len(snap.Transcript) != 1 {
		t.Fatalf("snapshot transcript grew to %d", len(snap.Transcript))
	}
	if len(snap.Interventions) != 0 || len(snap.ParkingLot) != 0 {
		t.Fatalf("snapshot saw later intervention")
	}
	if snap.Participants[0].SpeakingCount != 1 {
		t.Fatalf("snapshot participant count changed: %d", snap.Participants[0].SpeakingCount)
	}

	// Appending through the snapshot must not clobber the store.
	_ = append(snap.Transcript, TranscriptEntry{ID: "tr_x"})
	if got := s.Snapshot().Transcript[1].ID; got != "tr_2" {
		t.Fatalf("store entry overwritten: %q", got)
	}
}

func TestState_InterventionTimestampsNonDecreasing(t *testing.T) {
	s := newTestState()
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	s.AppendIntervention(Intervention{ID: "int_1", Timestamp: t0})
	got := s.AppendIntervention(Intervention{ID: "int_2", Timestamp: t0.Add(-time.Minute)})

	if got.Timestamp.Before(t0) {
		t.Fatalf("timestamp went backwards: %v", got.Timestamp)
	}
}

func TestState_ParkingLotDeduplicates(t *testing.T) {
	s := newTestState()
	s.AppendIntervention(Intervention{ID: "int_1", ParkingLotItem: "Office move"})
	s.AppendIntervention(Intervention{ID: "int_2", ParkingLotItem: " office move "})
	s.AppendIntervention(Intervention{ID: "int_3"})

	snap := s.Snapshot()
	if len(snap.ParkingLot) != 1 || snap.ParkingLot[0] != "Office move" {
		t.Fatalf("parking lot=%v", snap.ParkingLot)
	}
	if len(snap.Interventions) != 3 {
		t.Fatalf("interventions=%d", len(snap.Interventions))
	}
}

func TestState_StartAndEnd(t *testing.T) {
	s := newTestState()
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	if err := s.Start(now); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(now); err == nil {
		t.Fatalf("expected second Start to fail")
	}
	s.End(now.Add(time.Hour))
	if s.Status() != StatusCompleted {
		t.Fatalf("status=%q", s.Status())
	}
	if err := s.Start(now); err == nil {
		t.Fatalf("expected Start on completed meeting to fail")
	}
	snap := s.Snapshot()
	if snap.EndedAt == nil || !snap.EndedAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("ended_at=%v", snap.EndedAt)
	}
}

func TestSnapshot_SpeakerStats(t *testing.T) {
	s := newTestState()
	if len(s.Snapshot().SpeakerStats()) != 0 {
		t.Fatalf("expected empty stats before anyone spoke")
	}
	s.AppendTranscript(TranscriptEntry{ID: "tr_1", Speaker: "Alice", Duration: 2})
	s.AppendTranscript(TranscriptEntry{ID: "tr_2", Speaker: "Alice", Duration: 1.5})
	s.AppendTranscript(TranscriptEntry{ID: "tr_3", Speaker: "Bob", Duration: 1})

	stats := s.Snapshot().SpeakerStats()
	if stats["Alice"].Percentage != 67 || stats["Bob"].Percentage != 33 {
		t.Fatalf("stats=%+v", stats)
	}
	if stats["Alice"].SpeakingTime != 3.5 || stats["Alice"].Count != 2 {
		t.Fatalf("alice=%+v", stats["Alice"])
	}
}

func TestSnapshot_Recent(t *testing.T) {
	s := newTestState()
	for i := 0; i < 4; i++ {
		s.AppendTranscript(TranscriptEntry{ID: NewTranscriptID(), Speaker: "Alice"})
	}
	snap := s.Snapshot()
	if got := len(snap.Recent(10)); got != 4 {
		t.Fatalf("Recent(10)=%d", got)
	}
	if got := snap.Recent(2); len(got) != 2 || got[1].ID != snap.Transcript[3].ID {
		t.Fatalf("Recent(2)=%v", got)
	}
	if snap.Recent(0) != nil {
		t.Fatalf("Recent(0) should be nil")
	}
}

func TestRestore_ReplaysCounts(t *testing.T) {
	s := newTestState()
	s.AppendTranscript(TranscriptEntry{ID: "tr_1", Speaker: "Bob"})
	s.AppendIntervention(Intervention{ID: "int_1", ParkingLotItem: "budget"})
	snap := s.Snapshot()
	snap.Participants[1].SpeakingCount = 99

	r := Restore(snap).Snapshot()
	if r.Participants[1].SpeakingCount != 1 {
		t.Fatalf("count=%d", r.Participants[1].SpeakingCount)
	}
	if len(r.ParkingLot) != 1 || len(r.Interventions) != 1 {
		t.Fatalf("restored=%+v", r)
	}
}

func TestIDs(t *testing.T) {
	if id := NewTranscriptID(); !strings.HasPrefix(id, "tr_") || len(id) != 11 {
		t.Fatalf("transcript id=%q", id)
	}
	if id := NewInterventionID(); !strings.HasPrefix(id, "int_") || len(id) != 12 {
		t.Fatalf("intervention id=%q", id)
	}
}

func TestInterventionKind_Priority(t *testing.T) {
	if !(KindPrincipleViolation.Priority() > KindTopicDrift.Priority() &&
		KindTopicDrift.Priority() > KindParticipationImbalance.Priority() &&
		KindParticipationImbalance.Priority() > KindDecisionStyle.Priority()) {
		t.Fatalf("unexpected priority order")
	}
	if KindNone.Valid() || !KindDecisionStyle.Valid() {
		t.Fatalf("Valid mismatch")
	}
}
