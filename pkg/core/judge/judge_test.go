package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/core/reasoning"
)

type fakeProvider struct {
	reply string
	err   error
	last  *reasoning.Request
	calls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req *reasoning.Request) (*reasoning.Response, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &reasoning.Response{Text: f.reply}, nil
}

func entries(pairs ...string) []meeting.TranscriptEntry {
	var out []meeting.TranscriptEntry
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, meeting.TranscriptEntry{
			ID:      meeting.NewTranscriptID(),
			Speaker: pairs[i],
			Text:    pairs[i+1],
		})
	}
	return out
}

func snapshotWith(counts map[string]int, order ...string) meeting.Snapshot {
	var snap meeting.Snapshot
	snap.ID = "m1"
	snap.Agenda = "Q3 roadmap"
	for _, name := range order {
		snap.Participants = append(snap.Participants, meeting.Participant{
			Name:          name,
			Role:          "engineer",
			SpeakingCount: counts[name],
		})
	}
	return snap
}

func TestTopicJudge_FlagsDriftAboveThreshold(t *testing.T) {
	p := &fakeProvider{reply: "```json\n{\"is_off_topic\": true, \"confidence\": 0.9, \"off_topic_content\": \"lunch\", \"parking_lot_item\": \"Team lunch\"}\n```"}
	j := &TopicJudge{Provider: p}

	v, err := j.Evaluate(context.Background(), snapshotWith(nil), entries("A", "where should we go for lunch?"))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !v.NeedsIntervention || v.Kind != meeting.KindTopicDrift {
		t.Fatalf("verdict = %+v, want topic drift", v)
	}
	if v.ParkingLotItem != "Team lunch" {
		t.Fatalf("parking lot item = %q", v.ParkingLotItem)
	}
	if !strings.Contains(v.Message, "Team lunch") {
		t.Fatalf("message %q does not mention parking lot item", v.Message)
	}
	if !strings.Contains(p.last.Prompt, "Q3 roadmap") || !strings.Contains(p.last.Prompt, "A: where should we go for lunch?") {
		t.Fatalf("prompt missing agenda or window: %q", p.last.Prompt)
	}
}

func TestTopicJudge_BelowThresholdIsSilent(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"low confidence", `{"is_off_topic": true, "confidence": 0.6}`},
		{"exactly threshold", `{"is_off_topic": true, "confidence": 0.7}`},
		{"on topic", `{"is_off_topic": false, "confidence": 0.95}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &TopicJudge{Provider: &fakeProvider{reply: tt.reply}}
			v, err := j.Evaluate(context.Background(), snapshotWith(nil), entries("A", "hi"))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if v.NeedsIntervention {
				t.Fatalf("verdict = %+v, want none", v)
			}
		})
	}
}

func TestTopicJudge_EmptyWindowSkipsProvider(t *testing.T) {
	p := &fakeProvider{reply: `{"is_off_topic": true, "confidence": 1}`}
	j := &TopicJudge{Provider: p}
	v, err := j.Evaluate(context.Background(), snapshotWith(nil), nil)
	if err != nil || v.NeedsIntervention {
		t.Fatalf("Evaluate() = %+v, %v", v, err)
	}
	if p.calls != 0 {
		t.Fatalf("provider calls = %d, want 0", p.calls)
	}
}

func TestJudges_MalformedReplyIsJudgeFailure(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"not json", "I think the meeting is fine"},
		{"missing confidence", `{"is_off_topic": true}`},
		{"null flag", `{"is_off_topic": null, "confidence": 0.9}`},
		{"confidence out of range", `{"is_off_topic": true, "confidence": 1.5}`},
		{"wrong type", `{"is_off_topic": "yes", "confidence": 0.9}`},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &TopicJudge{Provider: &fakeProvider{reply: tt.reply}}
			_, err := j.Evaluate(context.Background(), snapshotWith(nil), entries("A", "hi"))
			if !core.IsType(err, core.ErrJudgeFailure) {
				t.Fatalf("err = %v, want judge_failure", err)
			}
		})
	}
}

func TestJudges_ProviderErrorIsWrapped(t *testing.T) {
	cause := errors.New("boom")
	j := &PrincipleJudge{Provider: &fakeProvider{err: cause}}
	snap := snapshotWith(nil)
	snap.Principles = []meeting.Principle{{Name: "Timebox"}}

	_, err := j.Evaluate(context.Background(), snap, entries("A", "hi"))
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapping %v", err, cause)
	}
	if e, ok := core.AsError(err); !ok || e.Param != "principle" {
		t.Fatalf("err = %#v, want judge failure for principle", err)
	}
}

func TestPrincipleJudge_NoPrinciplesIsSilent(t *testing.T) {
	p := &fakeProvider{reply: `{"is_violation": true, "confidence": 1}`}
	j := &PrincipleJudge{Provider: p}
	v, err := j.Evaluate(context.Background(), snapshotWith(nil), entries("A", "I decided already"))
	if err != nil || v.NeedsIntervention {
		t.Fatalf("Evaluate() = %+v, %v", v, err)
	}
	if p.calls != 0 {
		t.Fatalf("provider calls = %d, want 0", p.calls)
	}
}

func TestPrincipleJudge_FlagsViolation(t *testing.T) {
	p := &fakeProvider{reply: `{"is_violation": true, "confidence": 0.8, "violated_principle": "Horizontal decisions", "violation_reason": "boss decided"}`}
	j := &PrincipleJudge{Provider: p}
	snap := snapshotWith(nil)
	snap.Principles = []meeting.Principle{{
		Name:    "Horizontal decisions",
		Content: "# Horizontal decisions\n\nEveryone gets a voice before a decision.",
	}}

	v, err := j.Evaluate(context.Background(), snap, entries("Boss", "We go with option B, end of discussion."))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !v.NeedsIntervention || v.Kind != meeting.KindPrincipleViolation {
		t.Fatalf("verdict = %+v", v)
	}
	if v.ViolatedPrinciple != "Horizontal decisions" || !strings.Contains(v.Message, "'Horizontal decisions'") {
		t.Fatalf("verdict = %+v", v)
	}
	if !strings.Contains(p.last.Prompt, "- Horizontal decisions: Everyone gets a voice before a decision.") {
		t.Fatalf("prompt = %q", p.last.Prompt)
	}
}

func TestParticipationJudge(t *testing.T) {
	tests := []struct {
		name      string
		counts    map[string]int
		order     []string
		want      bool
		suggested string
		conf      float64
	}{
		{"silent participant", map[string]int{"A": 0, "B": 10}, []string{"A", "B"}, true, "A", 0.9},
		{"dominant speaker", map[string]int{"A": 18, "B": 1, "C": 3}, []string{"A", "B", "C"}, true, "B", 0.85},
		{"balanced", map[string]int{"A": 5, "B": 5}, []string{"A", "B"}, false, "", 0},
		{"dominant but everyone above ten percent", map[string]int{"A": 6, "B": 2, "C": 2}, []string{"A", "B", "C"}, false, "", 0},
		{"too few utterances", map[string]int{"A": 0, "B": 4}, []string{"A", "B"}, false, "", 0},
		{"single participant", map[string]int{"A": 10}, []string{"A"}, false, "", 0},
		{"unattributed speech only", map[string]int{"A": 0, "B": 0, meeting.UnknownSpeaker: 5}, []string{"A", "B", meeting.UnknownSpeaker}, false, "", 0},
		{"silent unknown bucket ignored", map[string]int{"A": 5, "B": 5, meeting.UnknownSpeaker: 0}, []string{"A", "B", meeting.UnknownSpeaker}, false, "", 0},
		{"unknown does not count toward total", map[string]int{"A": 0, "B": 4, meeting.UnknownSpeaker: 20}, []string{"A", "B", meeting.UnknownSpeaker}, false, "", 0},
		{"imbalance among attributed speakers", map[string]int{"A": 9, "B": 0, meeting.UnknownSpeaker: 30}, []string{"A", "B", meeting.UnknownSpeaker}, true, "B", 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &ParticipationJudge{}
			v, err := j.Evaluate(context.Background(), snapshotWith(tt.counts, tt.order...), nil)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if v.NeedsIntervention != tt.want {
				t.Fatalf("NeedsIntervention = %v, want %v (%+v)", v.NeedsIntervention, tt.want, v)
			}
			if !tt.want {
				return
			}
			if v.Kind != meeting.KindParticipationImbalance || v.SuggestedSpeaker != tt.suggested || v.Confidence != tt.conf {
				t.Fatalf("verdict = %+v", v)
			}
		})
	}
}

func TestParticipationJudge_StaticAttributionStaysSilent(t *testing.T) {
	st := meeting.NewState(meeting.Meeting{
		ID: "m1",
		Participants: []meeting.Participant{
			{ID: "p1", Name: "Alice", Role: "pm"},
			{ID: "p2", Name: "Bob", Role: "engineer"},
		},
	})
	for i := 0; i < 5; i++ {
		st.AppendTranscript(meeting.TranscriptEntry{
			ID:      meeting.NewTranscriptID(),
			Speaker: meeting.UnknownSpeaker,
			Text:    fmt.Sprintf("utterance %d", i),
		})
	}

	v, err := (&ParticipationJudge{}).Evaluate(context.Background(), st.Snapshot(), nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if v.NeedsIntervention {
		t.Fatalf("verdict = %+v, want none for unattributed speech", v)
	}
}

func TestDecisionJudge_FlagsTopDown(t *testing.T) {
	p := &fakeProvider{reply: `{"is_top_down": true, "confidence": 0.92, "decider": "Boss", "reason": "no input asked"}`}
	j := &DecisionJudge{Provider: p}
	v, err := j.Evaluate(context.Background(), snapshotWith(map[string]int{"Boss": 1}, "Boss"), entries("Boss", "We ship Friday."))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !v.NeedsIntervention || v.Kind != meeting.KindDecisionStyle || !strings.Contains(v.Message, "Boss") {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestFormatWindow_KeepsLastN(t *testing.T) {
	got := formatWindow(entries("A", "1", "B", "2", "C", "3"), 2)
	if got != "B: 2\nC: 3" {
		t.Fatalf("formatWindow() = %q", got)
	}
}

func TestLLMConfig_CustomThreshold(t *testing.T) {
	j := &TopicJudge{
		Provider: &fakeProvider{reply: `{"is_off_topic": true, "confidence": 0.6}`},
		Config:   LLMConfig{Threshold: 0.5},
	}
	v, err := j.Evaluate(context.Background(), snapshotWith(nil), entries("A", "hi"))
	if err != nil || !v.NeedsIntervention {
		t.Fatalf("Evaluate() = %+v, %v", v, err)
	}
}
