// Package report writes human-readable markdown records of a meeting to
// <dir>/<meeting id>/{preparation,transcript,interventions}.md.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meetingmod/moderator/pkg/core/meeting"
)

const DefaultDir = "meetings"

const (
	PreparationFile   = "preparation.md"
	TranscriptFile    = "transcript.md"
	InterventionsFile = "interventions.md"
)

const stamp = "2006-01-02 15:04"

type Writer struct {
	Dir string
	Now func() time.Time
}

func New(dir string) *Writer {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	return &Writer{Dir: dir, Now: time.Now}
}

// Files lists the report paths for a meeting, relative to the working
// directory.
func (w *Writer) Files(id string) []string {
	dir := w.meetingDir(id)
	return []string{
		filepath.Join(dir, PreparationFile),
		filepath.Join(dir, TranscriptFile),
		filepath.Join(dir, InterventionsFile),
	}
}

func (w *Writer) SavePreparation(_ context.Context, snap meeting.Snapshot) error {
	return w.write(snap.ID, PreparationFile, Preparation(snap, w.now()))
}

func (w *Writer) SaveTranscript(_ context.Context, snap meeting.Snapshot) error {
	return w.write(snap.ID, TranscriptFile, Transcript(snap))
}

func (w *Writer) SaveInterventions(_ context.Context, snap meeting.Snapshot) error {
	return w.write(snap.ID, InterventionsFile, Interventions(snap))
}

func (w *Writer) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

func (w *Writer) meetingDir(id string) string {
	return filepath.Join(w.Dir, filepath.Base(filepath.Clean("/"+id)))
}

// write replaces the file atomically so readers never see a partial report.
func (w *Writer) write(id, name, content string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("report %s: meeting id is empty", name)
	}
	dir := w.meetingDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("report %s: %w", name, err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("report %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("report %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("report %s: %w", name, err)
	}
	return nil
}

func Preparation(snap meeting.Snapshot, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Meeting preparation\n\n")
	b.WriteString("## Meeting\n")
	fmt.Fprintf(&b, "- **Title**: %s\n", snap.Title)
	fmt.Fprintf(&b, "- **Date**: %s\n", now.Format(stamp))
	b.WriteString("\n## Participants\n")
	b.WriteString("| Name | Role |\n")
	b.WriteString("|------|------|\n")
	for _, p := range snap.Participants {
		fmt.Fprintf(&b, "| %s | %s |\n", cell(p.Name), cell(p.Role))
	}
	if len(snap.Principles) > 0 {
		b.WriteString("\n## Principles\n")
		for _, p := range snap.Principles {
			fmt.Fprintf(&b, "- %s\n", p.Name)
		}
	}
	fmt.Fprintf(&b, "\n## Agenda\n%s\n", snap.Agenda)
	return b.String()
}

func Transcript(snap meeting.Snapshot) string {
	var b strings.Builder
	b.WriteString("# Meeting transcript\n\n")
	fmt.Fprintf(&b, "Meeting: %s\n", snap.Title)
	started := "N/A"
	if snap.StartedAt != nil {
		started = snap.StartedAt.Format(stamp)
	}
	fmt.Fprintf(&b, "Date: %s\n\n---\n\n", started)
	for _, e := range snap.Transcript {
		fmt.Fprintf(&b, "[%s] **%s**: %s\n\n", e.Timestamp.UTC().Format(time.DateTime), e.Speaker, e.Text)
	}
	return b.String()
}

func Interventions(snap meeting.Snapshot) string {
	var b strings.Builder
	b.WriteString("# Moderator interventions\n\n")
	fmt.Fprintf(&b, "Meeting: %s\n\n---\n\n", snap.Title)
	for i, iv := range snap.Interventions {
		fmt.Fprintf(&b, "## Intervention #%d\n", i+1)
		fmt.Fprintf(&b, "- **Time**: %s\n", iv.Timestamp.UTC().Format(time.DateTime))
		fmt.Fprintf(&b, "- **Type**: %s\n", iv.Kind)
		fmt.Fprintf(&b, "- **Message**: %s\n", iv.Message)
		if iv.ViolatedPrinciple != "" {
			fmt.Fprintf(&b, "- **Violated principle**: %s\n", iv.ViolatedPrinciple)
		}
		if iv.ParkingLotItem != "" {
			fmt.Fprintf(&b, "- **Parking lot**: %s\n", iv.ParkingLotItem)
		}
		if iv.SuggestedSpeaker != "" {
			fmt.Fprintf(&b, "- **Suggested speaker**: %s\n", iv.SuggestedSpeaker)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
