package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/gateway/config"
	"github.com/meetingmod/moderator/pkg/storage"
	"github.com/meetingmod/moderator/pkg/storage/sqlstore"
)

func testApp(cfg config.Config) app {
	return app{
		loadConfig:   func() (config.Config, error) { return cfg, nil },
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
		isTerminal:   func(io.Writer) bool { return false },
		runViewer: func(context.Context, reviewModel, io.Writer) error {
			return errors.New("viewer not expected")
		},
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Addr:                "127.0.0.1:0",
		AuthMode:            config.AuthModeDisabled,
		ReasoningProvider:   config.ReasoningNone,
		SpeakerAttribution:  "static",
		Judges:              []string{"participation"},
		AnalysisWindow:      10,
		DatabaseURL:         filepath.Join(dir, "moderator.db"),
		ReportsDir:          filepath.Join(dir, "meetings"),
		PrinciplesDir:       filepath.Join(dir, "principles"),
		ReadHeaderTimeout:   time.Second,
		ShutdownGracePeriod: 2 * time.Second,
	}
}

func run(t *testing.T, a app, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), args, &stdout, &stderr, a)
	return code, stdout.String(), stderr.String()
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	a := testApp(config.Config{})
	a.loadConfig = func() (config.Config, error) { return config.Config{}, errors.New("bad config") }

	code, _, stderr := run(t, a, "serve")
	if code == 0 {
		t.Fatalf("expected non-zero exit code")
	}
	if !strings.Contains(stderr, "load config: bad config") {
		t.Fatalf("stderr=%q", stderr)
	}
}

func TestRunMain_UnknownCommand(t *testing.T) {
	code, _, stderr := run(t, testApp(config.Config{}), "nope")
	if code == 0 || !strings.Contains(stderr, "unknown command") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	cfg := config.Config{Addr: "127.0.0.1:9999", ReadHeaderTimeout: 3 * time.Second}
	srv := buildHTTPServer(cfg, nil)
	if srv.Addr != cfg.Addr {
		t.Fatalf("addr=%q", srv.Addr)
	}
	if srv.ReadHeaderTimeout != 3*time.Second {
		t.Fatalf("read header timeout=%v", srv.ReadHeaderTimeout)
	}
}

func TestRunServe_StopsOnSignal(t *testing.T) {
	cfg := testConfig(t)
	a := testApp(cfg)
	a.signalNotify = func(c chan<- os.Signal, _ ...os.Signal) { c <- os.Interrupt }

	if err := runServe(context.Background(), cfg, newLogger(io.Discard, 0), a); err != nil {
		t.Fatalf("runServe: %v", err)
	}
	if _, err := os.Stat(cfg.PrinciplesDir); err != nil {
		t.Fatalf("principles dir not created: %v", err)
	}
}

func TestMigrate_AppliesAndReportsStatus(t *testing.T) {
	a := testApp(testConfig(t))

	code, stdout, stderr := run(t, a, "migrate")
	if code != 0 {
		t.Fatalf("migrate code=%d stderr=%q", code, stderr)
	}
	if !strings.HasPrefix(stdout, "applied ") {
		t.Fatalf("stdout=%q", stdout)
	}

	code, stdout, stderr = run(t, a, "migrate", "status")
	if code != 0 {
		t.Fatalf("status code=%d stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, "VERSION") || !strings.Contains(stdout, "applied") || strings.Contains(stdout, "pending") {
		t.Fatalf("stdout=%q", stdout)
	}
}

func TestPrinciplesList(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.PrinciplesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.PrinciplesDir, "aws.md"), []byte("# Customer Obsession\n\nStart with the customer.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := testApp(cfg)

	code, stdout, stderr := run(t, a, "principles", "list")
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, "aws") || !strings.Contains(stdout, "Customer Obsession") {
		t.Fatalf("stdout=%q", stdout)
	}

	code, stdout, _ = run(t, a, "principles", "list", "--json")
	if code != 0 || !strings.Contains(stdout, `"id": "aws"`) {
		t.Fatalf("code=%d stdout=%q", code, stdout)
	}
}

func seedMeeting(t *testing.T, cfg config.Config) meeting.Snapshot {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, cfg.DatabaseURL, newLogger(io.Discard, 0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	if _, err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	st := meeting.NewState(meeting.Meeting{
		ID:           "m1",
		Title:        "Planning",
		Agenda:       "Q1",
		CreatedAt:    now,
		Participants: []meeting.Participant{{ID: "p1", Name: "Kim", Role: "lead"}},
	})
	if err := st.Start(now); err != nil {
		t.Fatal(err)
	}
	st.AppendTranscript(meeting.TranscriptEntry{ID: "tr_1", Timestamp: now.Add(time.Minute), Speaker: "Kim", Text: "Let's ship the beta."})
	st.AppendIntervention(meeting.Intervention{
		ID:        "int_1",
		Timestamp: now.Add(2 * time.Minute),
		Kind:      meeting.KindTopicDrift,
		Message:   "Back to the agenda please.",
	})
	st.End(now.Add(30 * time.Minute))
	snap := st.Snapshot()
	if err := storage.SaveAll(ctx, store, snap); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	return snap
}

func TestReview_PlainWhenNotTerminal(t *testing.T) {
	cfg := testConfig(t)
	seedMeeting(t, cfg)

	code, stdout, stderr := run(t, testApp(cfg), "review", "m1")
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	for _, want := range []string{"# Meeting transcript", "**Kim**: Let's ship the beta.", "TOPIC_DRIFT"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestReview_TerminalRunsViewer(t *testing.T) {
	cfg := testConfig(t)
	seedMeeting(t, cfg)
	a := testApp(cfg)
	a.isTerminal = func(io.Writer) bool { return true }
	var got reviewModel
	a.runViewer = func(_ context.Context, m reviewModel, _ io.Writer) error {
		got = m
		return nil
	}

	if code, _, stderr := run(t, a, "review", "m1"); code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
	if !strings.Contains(strings.Join(got.lines, "\n"), "Let's ship the beta.") {
		t.Fatalf("viewer lines=%q", got.lines)
	}
}

func TestReview_MissingMeeting(t *testing.T) {
	cfg := testConfig(t)
	seedMeeting(t, cfg)

	code, _, stderr := run(t, testApp(cfg), "review", "nope")
	if code == 0 || !strings.Contains(stderr, "not found") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestReviewModel_Scrolls(t *testing.T) {
	m := reviewModel{title: "t", lines: make([]string, 50), height: 13}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'G'}})
	m = next.(reviewModel)
	if m.offset != 40 {
		t.Fatalf("offset after G=%d", m.offset)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	if next.(reviewModel).offset != 40 {
		t.Fatalf("scrolled past the end")
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'g'}})
	if next.(reviewModel).offset != 0 {
		t.Fatalf("offset after g=%d", next.(reviewModel).offset)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatalf("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("q returned %T", cmd())
	}
}
