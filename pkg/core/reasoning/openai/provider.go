// Package openai implements reasoning.Provider on the OpenAI Chat Completions
// API in JSON mode.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/meetingmod/moderator/pkg/core/reasoning"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when a request does not name one.
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens is the default max tokens if not specified.
	DefaultMaxTokens = 500
)

// Provider implements reasoning.Provider.
type Provider struct {
	apiKey              string
	baseURL             string
	chatCompletionsPath string
	model               string
	httpClient          *http.Client
}

var _ reasoning.Provider = (*Provider)(nil)

// New creates a new OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:              apiKey,
		baseURL:             DefaultBaseURL,
		chatCompletionsPath: "/chat/completions",
		model:               DefaultModel,
		httpClient:          &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// Complete sends one JSON-mode chat completion.
func (p *Provider) Complete(ctx context.Context, req *reasoning.Request) (*reasoning.Response, error) {
	body := p.buildRequest(req)

	respBody, err := p.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, reasoning.ErrEmptyResponse
	}
	return &reasoning.Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
	}, nil
}

func (p *Provider) buildRequest(req *reasoning.Request) *chatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}

	out := &chatRequest{
		Model:          model,
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	out.Messages = append(out.Messages, chatMessage{Role: "user", Content: req.Prompt})
	return out
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
}
