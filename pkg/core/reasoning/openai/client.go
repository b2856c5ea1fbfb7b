package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/meetingmod/moderator/pkg/core"
)

// doRequest sends a non-streaming request to OpenAI.
func (p *Provider) doRequest(ctx context.Context, req *chatRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

func (p *Provider) chatCompletionsURL() string {
	return strings.TrimRight(p.baseURL, "/") + p.chatCompletionsPath
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
		Param   string `json:"param"`
	} `json:"error"`
}

// parseError maps an OpenAI error body onto *core.Error.
func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var er errorResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		msg = er.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var ce *core.Error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		ce = core.NewAuthenticationError("openai: " + msg)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		ce = core.NewInvalidRequestError("openai: " + msg)
	default:
		ce = core.NewAPIError("openai: " + msg)
		ce.Recoverable = true
	}
	ce.Code = fmt.Sprintf("http_%d", resp.StatusCode)
	ce.Param = er.Error.Param
	return ce
}
