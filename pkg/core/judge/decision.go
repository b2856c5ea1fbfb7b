package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/core/reasoning"
)

const decisionSystem = `You watch how a meeting reaches decisions.
Flag top-down decisions: a single participant settling a question for the group
without inviting input or checking for objections.
Respond with a single JSON object:
{"is_top_down": true|false, "confidence": 0.0-1.0, "decider": "name, if any", "reason": "why, if any"}`

// DecisionJudge flags decisions taken top-down instead of by the group.
type DecisionJudge struct {
	Provider reasoning.Provider
	Config   LLMConfig
}

func (j *DecisionJudge) Name() string { return "decision" }

type decisionReply struct {
	IsTopDown  bool    `json:"is_top_down"`
	Confidence float64 `json:"confidence"`
	Decider    string  `json:"decider"`
	Reason     string  `json:"reason"`
}

func (j *DecisionJudge) Evaluate(ctx context.Context, snap meeting.Snapshot, window []meeting.TranscriptEntry) (Verdict, error) {
	if len(window) == 0 {
		return noVerdict(j.Name()), nil
	}

	names := make([]string, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Role))
	}
	prompt := fmt.Sprintf("Participants: %s\n\nRecent conversation:\n%s",
		strings.Join(names, ", "), formatWindow(window, j.Config.window()))

	resp, err := j.Provider.Complete(ctx, j.Config.request(decisionSystem, prompt))
	if err != nil {
		return Verdict{}, core.NewJudgeFailure(j.Name(), err)
	}
	var reply decisionReply
	if err := decodeVerdict(resp.Text, &reply, "is_top_down", "confidence"); err != nil {
		return Verdict{}, core.NewJudgeFailure(j.Name(), err)
	}
	if !reply.IsTopDown || reply.Confidence <= j.Config.threshold() {
		return noVerdict(j.Name()), nil
	}

	msg := "Let's pause before settling this. A decision like this needs everyone's input."
	if d := strings.TrimSpace(reply.Decider); d != "" {
		msg = fmt.Sprintf("Let's pause, %s. A decision like this needs everyone's input before we settle it.", d)
	}
	return Verdict{
		Judge:             j.Name(),
		NeedsIntervention: true,
		Kind:              meeting.KindDecisionStyle,
		Message:           msg,
		Confidence:        reply.Confidence,
	}, nil
}
