package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/core/reasoning"
)

const principleSystem = `You monitor whether a meeting follows its declared principles.
Typical violations: one person deciding alone without asking for other opinions,
ignoring an agreed timebox, accepting a proposal without voicing disagreement.
Respond with a single JSON object:
{"is_violation": true|false, "confidence": 0.0-1.0, "violated_principle": "principle name, if any", "violation_reason": "why, if any"}`

// principleSummaryLen bounds how much of each principle document is sent.
const principleSummaryLen = 280

// PrincipleJudge flags violations of the meeting's declared principles. It
// stays silent when no principle is declared.
type PrincipleJudge struct {
	Provider reasoning.Provider
	Config   LLMConfig
}

func (j *PrincipleJudge) Name() string { return "principle" }

type principleReply struct {
	IsViolation       bool    `json:"is_violation"`
	Confidence        float64 `json:"confidence"`
	ViolatedPrinciple string  `json:"violated_principle"`
	ViolationReason   string  `json:"violation_reason"`
}

func (j *PrincipleJudge) Evaluate(ctx context.Context, snap meeting.Snapshot, window []meeting.TranscriptEntry) (Verdict, error) {
	if len(window) == 0 || len(snap.PrincipleNames()) == 0 {
		return noVerdict(j.Name()), nil
	}

	var principles strings.Builder
	for _, p := range snap.Principles {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		fmt.Fprintf(&principles, "- %s", name)
		if summary := summarize(p.Content, principleSummaryLen); summary != "" {
			fmt.Fprintf(&principles, ": %s", summary)
		}
		principles.WriteByte('\n')
	}
	prompt := fmt.Sprintf("Meeting principles:\n%s\nRecent conversation:\n%s",
		principles.String(), formatWindow(window, j.Config.window()))

	resp, err := j.Provider.Complete(ctx, j.Config.request(principleSystem, prompt))
	if err != nil {
		return Verdict{}, core.NewJudgeFailure(j.Name(), err)
	}
	var reply principleReply
	if err := decodeVerdict(resp.Text, &reply, "is_violation", "confidence"); err != nil {
		return Verdict{}, core.NewJudgeFailure(j.Name(), err)
	}

	if !reply.IsViolation || reply.Confidence <= j.Config.threshold() {
		return noVerdict(j.Name()), nil
	}

	violated := strings.TrimSpace(reply.ViolatedPrinciple)
	if violated == "" {
		violated = "meeting principles"
	}
	return Verdict{
		Judge:             j.Name(),
		NeedsIntervention: true,
		Kind:              meeting.KindPrincipleViolation,
		Message:           fmt.Sprintf("Let's pause: this goes against the '%s' principle. What do the others think?", violated),
		Confidence:        reply.Confidence,
		ViolatedPrinciple: violated,
	}, nil
}

// summarize flattens markdown to one line, drops headings, and truncates.
func summarize(content string, max int) string {
	var parts []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts = append(parts, line)
	}
	s := strings.Join(parts, " ")
	if r := []rune(s); len(r) > max {
		s = string(r[:max]) + "…"
	}
	return s
}
