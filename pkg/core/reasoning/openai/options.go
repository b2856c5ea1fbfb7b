package openai

import (
	"net/http"
	"strings"
)

// Option configures the OpenAI provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithChatCompletionsPath sets a custom chat completions path.
func WithChatCompletionsPath(path string) Option {
	return func(p *Provider) {
		if path == "" {
			return
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		p.chatCompletionsPath = path
	}
}

// WithModel sets the model used when a request leaves it empty.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.httpClient = client
		}
	}
}
