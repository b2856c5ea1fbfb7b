package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meetingmod/moderator/pkg/core/meeting"
)

func snapshot() meeting.Snapshot {
	started := time.Date(2026, 10, 18, 14, 30, 0, 0, time.UTC)
	return meeting.Snapshot{
		Meeting: meeting.Meeting{
			ID:        "2026-10-18-design-review",
			Title:     "Design review",
			Agenda:    "1. Storage layout\n2. Rollout",
			StartedAt: &started,
			Principles: []meeting.Principle{
				{ID: "data-first", Name: "Data first"},
			},
			Participants: []meeting.Participant{
				{Name: "Alice", Role: "Eng|Infra"},
				{Name: "Bob", Role: "Product"},
			},
		},
		Transcript: []meeting.TranscriptEntry{
			{Timestamp: started.Add(12 * time.Second), Speaker: "Alice", Text: "Storage first."},
		},
		Interventions: []meeting.Intervention{
			{Timestamp: started.Add(time.Minute), Kind: meeting.KindPrincipleViolation, Message: "Let's pause.", ViolatedPrinciple: "Data first"},
			{Timestamp: started.Add(2 * time.Minute), Kind: meeting.KindTopicDrift, Message: "Back to the agenda.", ParkingLotItem: "offsite"},
		},
	}
}

func TestPreparation(t *testing.T) {
	got := Preparation(snapshot(), time.Date(2026, 10, 18, 9, 5, 0, 0, time.UTC))
	for _, want := range []string{
		"- **Title**: Design review\n",
		"- **Date**: 2026-10-18 09:05\n",
		"| Alice | Eng\\|Infra |\n",
		"| Bob | Product |\n",
		"## Principles\n- Data first\n",
		"## Agenda\n1. Storage layout\n2. Rollout\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("preparation missing %q:\n%s", want, got)
		}
	}
}

func TestTranscript(t *testing.T) {
	got := Transcript(snapshot())
	if !strings.Contains(got, "Date: 2026-10-18 14:30\n") {
		t.Fatalf("missing start date:\n%s", got)
	}
	if !strings.Contains(got, "[2026-10-18 14:30:12] **Alice**: Storage first.\n") {
		t.Fatalf("missing entry line:\n%s", got)
	}

	snap := snapshot()
	snap.StartedAt = nil
	if !strings.Contains(Transcript(snap), "Date: N/A\n") {
		t.Fatalf("expected N/A for an unstarted meeting")
	}
}

func TestInterventions(t *testing.T) {
	got := Interventions(snapshot())
	for _, want := range []string{
		"## Intervention #1\n- **Time**: 2026-10-18 14:31:00\n- **Type**: PRINCIPLE_VIOLATION\n",
		"- **Violated principle**: Data first\n",
		"## Intervention #2\n",
		"- **Parking lot**: offsite\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("interventions missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "Violated principle") != 1 {
		t.Fatalf("violated principle line should appear once:\n%s", got)
	}
}

func TestWriter_WritesAllFiles(t *testing.T) {
	w := New(t.TempDir())
	w.Now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }
	snap := snapshot()
	ctx := context.Background()

	if err := w.SavePreparation(ctx, snap); err != nil {
		t.Fatalf("SavePreparation: %v", err)
	}
	if err := w.SaveTranscript(ctx, snap); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if err := w.SaveInterventions(ctx, snap); err != nil {
		t.Fatalf("SaveInterventions: %v", err)
	}

	for _, path := range w.Files(snap.ID) {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if len(data) == 0 {
			t.Fatalf("%s is empty", path)
		}
	}
	entries, err := os.ReadDir(filepath.Join(w.Dir, snap.ID))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("meeting dir has %d entries, want 3 (no temp files left)", len(entries))
	}
}

func TestWriter_KeepsIDInsideDir(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	snap := snapshot()
	snap.ID = "../../escape"
	if err := w.SaveTranscript(context.Background(), snap); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape", TranscriptFile)); err != nil {
		t.Fatalf("expected report under the reports dir: %v", err)
	}
}
