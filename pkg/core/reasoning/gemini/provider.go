// Package gemini implements reasoning.Provider on the Gemini API through the
// google.golang.org/genai SDK.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/reasoning"
)

// DefaultModel is used when a request does not name one.
const DefaultModel = "gemini-2.0-flash"

// Option configures the Gemini provider.
type Option func(*options)

type options struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// WithModel sets the model used when a request leaves it empty.
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL points the SDK at a different endpoint (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// Provider implements reasoning.Provider.
type Provider struct {
	client *genai.Client
	model  string
}

var _ reasoning.Provider = (*Provider)(nil)

// New builds a Gemini API client. It fails only when the SDK rejects the
// configuration.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, core.NewConfigurationError("GEMINI_API_KEY is not set")
	}
	o := options{model: DefaultModel}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if o.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Provider{client: client, model: o.model}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Complete asks for an application/json response.
func (p *Provider) Complete(ctx context.Context, req *reasoning.Request) (*reasoning.Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		ce := core.NewAPIError(fmt.Sprintf("gemini: %v", err))
		ce.Recoverable = true
		ce.Cause = err
		return nil, ce
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, reasoning.ErrEmptyResponse
	}
	return &reasoning.Response{Text: text, Model: model}, nil
}
