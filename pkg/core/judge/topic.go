package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/core/reasoning"
)

const topicSystem = `You detect when a meeting conversation drifts away from its agenda.
Small talk unrelated to the agenda (lunch plans, the weather, and so on) counts as drift.
Respond with a single JSON object:
{"is_off_topic": true|false, "confidence": 0.0-1.0, "off_topic_content": "drifted topic, if any", "parking_lot_item": "item to defer, if any"}`

// TopicJudge flags conversation that has left the agenda and proposes a
// parking-lot item for it.
type TopicJudge struct {
	Provider reasoning.Provider
	Config   LLMConfig
}

func (j *TopicJudge) Name() string { return "topic" }

type topicReply struct {
	IsOffTopic      bool    `json:"is_off_topic"`
	Confidence      float64 `json:"confidence"`
	OffTopicContent string  `json:"off_topic_content"`
	ParkingLotItem  string  `json:"parking_lot_item"`
}

func (j *TopicJudge) Evaluate(ctx context.Context, snap meeting.Snapshot, window []meeting.TranscriptEntry) (Verdict, error) {
	if len(window) == 0 {
		return noVerdict(j.Name()), nil
	}

	agenda := strings.TrimSpace(snap.Agenda)
	if agenda == "" {
		agenda = "(no agenda)"
	}
	prompt := fmt.Sprintf("Agenda:\n%s\n\nRecent conversation:\n%s", agenda, formatWindow(window, j.Config.window()))

	resp, err := j.Provider.Complete(ctx, j.Config.request(topicSystem, prompt))
	if err != nil {
		return Verdict{}, core.NewJudgeFailure(j.Name(), err)
	}
	var reply topicReply
	if err := decodeVerdict(resp.Text, &reply, "is_off_topic", "confidence"); err != nil {
		return Verdict{}, core.NewJudgeFailure(j.Name(), err)
	}

	if !reply.IsOffTopic || reply.Confidence <= j.Config.threshold() {
		return noVerdict(j.Name()), nil
	}

	item := strings.TrimSpace(reply.ParkingLotItem)
	msg := "Hold on, we've drifted from the agenda. Let's get back to the main topic."
	if item != "" {
		msg += fmt.Sprintf(" I've added %q to the parking lot.", item)
	}
	return Verdict{
		Judge:             j.Name(),
		NeedsIntervention: true,
		Kind:              meeting.KindTopicDrift,
		Message:           msg,
		Confidence:        reply.Confidence,
		ParkingLotItem:    item,
	}, nil
}
