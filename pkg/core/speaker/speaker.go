// Package speaker attributes transcribed utterances to meeting participants.
package speaker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/core/reasoning"
)

// Attribution names the speaker of one utterance.
type Attribution struct {
	Speaker    string
	Confidence float64
}

// Attributor decides who said text. roster and recent are read-only.
type Attributor interface {
	Attribute(ctx context.Context, text string, roster []meeting.Participant, recent []meeting.TranscriptEntry) (Attribution, error)
}

const (
	ModeStatic     = "static"
	ModeRoundRobin = "round_robin"
	ModeReasoned   = "reasoned"
)

// New builds the attributor selected by mode. The reasoned mode requires a
// provider.
func New(mode string, provider reasoning.Provider, model string) (Attributor, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeStatic:
		return Static{}, nil
	case ModeRoundRobin:
		return &RoundRobin{}, nil
	case ModeReasoned:
		if provider == nil {
			return nil, core.NewConfigurationError("speaker attribution \"reasoned\" requires a reasoning provider")
		}
		return &Reasoned{Provider: provider, Model: model}, nil
	default:
		return nil, core.NewConfigurationError(fmt.Sprintf("unknown speaker attribution mode %q", mode))
	}
}

// Static attributes every utterance to one fixed name.
type Static struct {
	Name string
}

func (s Static) Attribute(context.Context, string, []meeting.Participant, []meeting.TranscriptEntry) (Attribution, error) {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = meeting.UnknownSpeaker
	}
	return Attribution{Speaker: name}, nil
}

// RoundRobin cycles through the roster. It is mainly useful for demos and
// tests, where it produces balanced speaker statistics.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

func (r *RoundRobin) Attribute(_ context.Context, _ string, roster []meeting.Participant, _ []meeting.TranscriptEntry) (Attribution, error) {
	if len(roster) == 0 {
		return Attribution{Speaker: meeting.UnknownSpeaker}, nil
	}
	r.mu.Lock()
	idx := r.next % len(roster)
	r.next++
	r.mu.Unlock()
	return Attribution{Speaker: roster[idx].Name, Confidence: 1}, nil
}

// canonical maps name onto the roster's spelling when it matches one
// case-insensitively.
func canonical(name string, roster []meeting.Participant) string {
	name = strings.TrimSpace(name)
	for _, p := range roster {
		if strings.EqualFold(p.Name, name) {
			return p.Name
		}
	}
	return name
}
