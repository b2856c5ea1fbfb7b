package speaker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/core/reasoning"
)

// DefaultContextSize is how many recent entries are shown to the model.
const DefaultContextSize = 5

const reasonedSystem = `You identify who is speaking in a meeting from the participant list and the recent conversation.
Respond with a single JSON object: {"speaker": "participant name", "confidence": 0.0-1.0}`

// Reasoned asks a reasoning provider to pick the speaker from the roster.
type Reasoned struct {
	Provider    reasoning.Provider
	Model       string
	ContextSize int
}

type rosterEntry struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type recentEntry struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func (r *Reasoned) Attribute(ctx context.Context, text string, roster []meeting.Participant, recent []meeting.TranscriptEntry) (Attribution, error) {
	if len(roster) == 0 {
		return Attribution{Speaker: meeting.UnknownSpeaker}, nil
	}

	n := r.ContextSize
	if n <= 0 {
		n = DefaultContextSize
	}
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}

	people := make([]rosterEntry, len(roster))
	for i, p := range roster {
		people[i] = rosterEntry{Name: p.Name, Role: p.Role}
	}
	history := make([]recentEntry, len(recent))
	for i, e := range recent {
		history[i] = recentEntry{Speaker: e.Speaker, Text: e.Text}
	}
	peopleJSON, err := json.Marshal(people)
	if err != nil {
		return Attribution{}, err
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return Attribution{}, err
	}

	prompt := fmt.Sprintf("Participants:\n%s\n\nRecent conversation:\n%s\n\nNew utterance:\n%q",
		peopleJSON, historyJSON, text)
	resp, err := r.Provider.Complete(ctx, &reasoning.Request{
		Model:  r.Model,
		System: reasonedSystem,
		Prompt: prompt,
	})
	if err != nil {
		return Attribution{}, fmt.Errorf("speaker attribution: %w", err)
	}

	raw, err := reasoning.ExtractJSON(resp.Text)
	if err != nil {
		return Attribution{}, fmt.Errorf("speaker attribution: %w", err)
	}
	var reply struct {
		Speaker    string  `json:"speaker"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return Attribution{}, fmt.Errorf("speaker attribution: %w", err)
	}
	name := canonical(reply.Speaker, roster)
	if name == "" || strings.EqualFold(name, meeting.UnknownSpeaker) {
		return Attribution{Speaker: meeting.UnknownSpeaker, Confidence: reply.Confidence}, nil
	}
	return Attribution{Speaker: name, Confidence: reply.Confidence}, nil
}
