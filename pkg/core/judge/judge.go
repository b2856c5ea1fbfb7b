// Package judge contains the single-purpose evaluators that inspect a
// conversation window and decide whether a moderator should step in.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/core/reasoning"
)

const (
	// DefaultThreshold is the confidence a remote verdict must exceed.
	DefaultThreshold = 0.7

	// DefaultWindow is how many recent entries are shown to the model.
	DefaultWindow = 5
)

// Judge evaluates one concern over a read-only snapshot. Implementations
// must not retain or mutate the snapshot.
type Judge interface {
	Name() string
	Evaluate(ctx context.Context, snap meeting.Snapshot, window []meeting.TranscriptEntry) (Verdict, error)
}

// Verdict is one judge's opinion about one window.
type Verdict struct {
	Judge             string
	NeedsIntervention bool
	Kind              meeting.InterventionKind
	Message           string
	Confidence        float64
	ViolatedPrinciple string
	ParkingLotItem    string
	SuggestedSpeaker  string
}

func noVerdict(name string) Verdict {
	return Verdict{Judge: name}
}

// LLMConfig tunes a judge backed by a reasoning.Provider.
type LLMConfig struct {
	Model     string
	Threshold float64
	Window    int
	MaxTokens int
}

func (c LLMConfig) threshold() float64 {
	if c.Threshold <= 0 {
		return DefaultThreshold
	}
	return c.Threshold
}

func (c LLMConfig) window() int {
	if c.Window <= 0 {
		return DefaultWindow
	}
	return c.Window
}

func (c LLMConfig) request(system, prompt string) *reasoning.Request {
	return &reasoning.Request{
		Model:     c.Model,
		System:    system,
		Prompt:    prompt,
		MaxTokens: c.MaxTokens,
	}
}

// formatWindow renders the last n entries as "speaker: text" lines.
func formatWindow(window []meeting.TranscriptEntry, n int) string {
	if n > 0 && len(window) > n {
		window = window[len(window)-n:]
	}
	var b strings.Builder
	for i, e := range window {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", e.Speaker, e.Text)
	}
	return b.String()
}

// decodeVerdict parses a model reply into dst. Every key in required must be
// present and non-null, and "confidence", when required, must lie in [0,1].
func decodeVerdict(text string, dst any, required ...string) error {
	raw, err := reasoning.ExtractJSON(text)
	if err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return fmt.Errorf("malformed verdict: %w", err)
	}
	for _, key := range required {
		v, ok := fields[key]
		if !ok || string(v) == "null" {
			return fmt.Errorf("malformed verdict: missing %q", key)
		}
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("malformed verdict: %w", err)
	}
	if c, ok := fields["confidence"]; ok {
		var conf float64
		if err := json.Unmarshal(c, &conf); err != nil {
			return fmt.Errorf("malformed verdict: confidence: %w", err)
		}
		if conf < 0 || conf > 1 {
			return fmt.Errorf("malformed verdict: confidence %v outside [0,1]", conf)
		}
	}
	return nil
}
