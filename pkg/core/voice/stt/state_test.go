package stt

import (
	"sync"
	"testing"
	"time"
)

func TestConnectionState_TransitionTable(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		want     bool
	}{
		{Disconnected, Connecting, true},
		{Disconnected, Connected, false},
		{Disconnected, Reconnecting, false},
		{Connecting, Connected, true},
		{Connecting, Failed, true},
		{Connecting, Reconnecting, false},
		{Connected, Reconnecting, true},
		{Connected, Disconnected, true},
		{Connected, Failed, false},
		{Reconnecting, Connected, true},
		{Reconnecting, Failed, true},
		{Reconnecting, Connecting, false},
		{Failed, Connecting, true},
		{Failed, Disconnected, true},
		{Failed, Connected, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Fatalf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestConnectionState_String(t *testing.T) {
	if Reconnecting.String() != "reconnecting" || ConnectionState(42).String() != "unknown" {
		t.Fatalf("unexpected String output")
	}
}

func TestBackoffDelay_Doubles(t *testing.T) {
	base := time.Second
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := backoffDelay(base, i+1); got != w {
			t.Fatalf("attempt %d delay=%v, want %v", i+1, got, w)
		}
	}
	if got := backoffDelay(base, 0); got != base {
		t.Fatalf("attempt 0 delay=%v", got)
	}
}

func TestDispatcher_PreservesOrderAndSurvivesPanics(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	first := true
	d := newDispatcher(func(ev Event) {
		if first {
			first = false
			panic("observer bug")
		}
		te := ev.(TranscriptEvent)
		mu.Lock()
		got = append(got, te.Text)
		mu.Unlock()
	}, discardLogger())

	d.push(TranscriptEvent{Text: "dropped-by-panic"})
	for _, s := range []string{"a", "b", "c"} {
		d.push(TranscriptEvent{Text: s})
	}
	d.close()
	d.push(TranscriptEvent{Text: "after-close"})

	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("delivered=%v", got)
	}
}
