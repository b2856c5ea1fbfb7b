// Package reasoning defines the narrow contract judges and speaker
// attribution use to ask a remote language model for a structured JSON answer.
package reasoning

import (
	"context"
	"errors"
	"strings"
)

// Provider produces a JSON document for a prompt.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Complete sends one request and returns the model's raw JSON text.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is a single-turn JSON-mode completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the model's reply.
type Response struct {
	Text  string
	Model string
}

// ErrEmptyResponse is returned when the provider answered with no content.
var ErrEmptyResponse = errors.New("reasoning: empty response")

// ExtractJSON strips markdown code fences and surrounding prose, returning the
// outermost JSON object in text.
func ExtractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return "", ErrEmptyResponse
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errors.New("reasoning: no JSON object in response")
	}
	return s[start : end+1], nil
}
