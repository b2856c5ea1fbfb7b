package sqlstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "moderator.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func sampleSnapshot() meeting.Snapshot {
	created := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	started := created.Add(5 * time.Minute)
	st := meeting.NewState(meeting.Meeting{
		ID:         "2026-10-18-roadmap",
		Title:      "Roadmap",
		Agenda:     "Q1 priorities",
		CreatedAt:  created,
		Principles: []meeting.Principle{{ID: "disagree-commit", Name: "Disagree and commit", Content: "# Disagree and commit"}},
		Participants: []meeting.Participant{
			{ID: "p1", Name: "Alice", Role: "Engineering"},
			{ID: "p2", Name: "Bob", Role: "Product"},
		},
	})
	if err := st.Start(started); err != nil {
		panic(err)
	}
	st.AppendTranscript(meeting.TranscriptEntry{ID: "tr_1", Timestamp: started.Add(time.Second), Speaker: "Alice", Text: "Let's start.", Duration: 1.5, Confidence: 0.9})
	st.AppendTranscript(meeting.TranscriptEntry{ID: "tr_2", Timestamp: started.Add(3 * time.Second), Speaker: "Bob", Text: "What about lunch?", Duration: 2})
	st.AppendIntervention(meeting.Intervention{
		ID:             "int_1",
		Timestamp:      started.Add(4 * time.Second),
		Kind:           meeting.KindTopicDrift,
		Message:        "Back to the agenda.",
		TriggerContext: "Detected by topic",
		ParkingLotItem: "lunch",
	})
	return st.Snapshot()
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	n, err := s.Migrate(context.Background())
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if n != 0 {
		t.Fatalf("second Migrate applied %d migrations, want 0", n)
	}
	statuses, err := s.MigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("MigrationStatus: %v", err)
	}
	if len(statuses) != 1 || !statuses[0].Applied || statuses[0].Version != 1 {
		t.Fatalf("statuses = %+v", statuses)
	}
}

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()

	if err := s.SavePreparation(ctx, snap); err != nil {
		t.Fatalf("SavePreparation: %v", err)
	}
	if err := s.SaveTranscript(ctx, snap); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if err := s.SaveInterventions(ctx, snap); err != nil {
		t.Fatalf("SaveInterventions: %v", err)
	}

	got, err := s.Load(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Title != "Roadmap" || got.Status != meeting.StatusInProgress || got.StartedAt == nil || got.EndedAt != nil {
		t.Fatalf("meeting = %+v", got.Meeting)
	}
	if !got.CreatedAt.Equal(snap.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, snap.CreatedAt)
	}
	if len(got.Participants) != 2 || got.Participants[0].SpeakingCount != 1 || got.Participants[0].SpeakingTime != 1.5 {
		t.Fatalf("participants = %+v", got.Participants)
	}
	if len(got.Principles) != 1 || got.Principles[0].ID != "disagree-commit" {
		t.Fatalf("principles = %+v", got.Principles)
	}
	if len(got.Transcript) != 2 || got.Transcript[1].Text != "What about lunch?" || got.Transcript[0].Confidence != 0.9 {
		t.Fatalf("transcript = %+v", got.Transcript)
	}
	if len(got.Interventions) != 1 || got.Interventions[0].Kind != meeting.KindTopicDrift {
		t.Fatalf("interventions = %+v", got.Interventions)
	}
	if len(got.ParkingLot) != 1 || got.ParkingLot[0] != "lunch" {
		t.Fatalf("parking lot = %v", got.ParkingLot)
	}
}

func TestStore_RepeatedSavesDoNotDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()

	for i := 0; i < 2; i++ {
		if err := s.SaveTranscript(ctx, snap); err != nil {
			t.Fatalf("SaveTranscript #%d: %v", i, err)
		}
		if err := s.SaveInterventions(ctx, snap); err != nil {
			t.Fatalf("SaveInterventions #%d: %v", i, err)
		}
	}

	st := meeting.Restore(snap)
	st.End(snap.StartedAt.Add(time.Hour))
	if err := s.SaveTranscript(ctx, st.Snapshot()); err != nil {
		t.Fatalf("SaveTranscript after end: %v", err)
	}

	got, err := s.Load(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Transcript) != 2 || len(got.Interventions) != 1 {
		t.Fatalf("transcript=%d interventions=%d", len(got.Transcript), len(got.Interventions))
	}
	if got.Status != meeting.StatusCompleted || got.EndedAt == nil {
		t.Fatalf("status = %q ended_at = %v", got.Status, got.EndedAt)
	}
}

func TestStore_LoadMissingIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(context.Background(), "nope")
	if !core.IsType(err, core.ErrNotFound) {
		t.Fatalf("err = %v, want not_found_error", err)
	}
}

func TestStore_ListOrdersByCreation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first := sampleSnapshot()
	second := sampleSnapshot()
	second.ID = "2026-10-19-retro"
	second.CreatedAt = first.CreatedAt.Add(24 * time.Hour)

	for _, snap := range []meeting.Snapshot{second, first} {
		if err := s.SavePreparation(ctx, snap); err != nil {
			t.Fatalf("SavePreparation: %v", err)
		}
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("list = %+v", list)
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: goose.DialectPostgres}
	if got := pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"); got != "SELECT a FROM t WHERE b = $1 AND c = $2" {
		t.Fatalf("postgres rebind = %q", got)
	}
	lite := &Store{dialect: goose.DialectSQLite3}
	if got := lite.rebind("x = ?"); got != "x = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}

func TestIsPostgres(t *testing.T) {
	cases := map[string]bool{
		"postgres://u@localhost/db":   true,
		"postgresql://u@localhost/db": true,
		"moderator.db":                false,
		"/var/lib/moderator.db":       false,
	}
	for dsn, want := range cases {
		if got := IsPostgres(dsn); got != want {
			t.Fatalf("IsPostgres(%q) = %v, want %v", dsn, got, want)
		}
	}
}
