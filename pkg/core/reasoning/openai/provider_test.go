package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/reasoning"
)

func TestComplete_SendsJSONModeRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id":"chatcmpl_1",
			"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"is_off_topic\":false,\"confidence\":0.1}"}}]
		}`)
	}))
	defer server.Close()

	p := New("test-key", WithBaseURL(server.URL), WithModel("gpt-4o-mini"))
	resp, err := p.Complete(t.Context(), &reasoning.Request{
		System: "You are a facilitator.",
		Prompt: "Agenda: budget",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if gotPath != "/chat/completions" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody.ResponseFormat == nil || gotBody.ResponseFormat.Type != "json_object" {
		t.Fatalf("response_format = %+v", gotBody.ResponseFormat)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" || gotBody.Messages[1].Content != "Agenda: budget" {
		t.Fatalf("messages = %+v", gotBody.Messages)
	}
	if gotBody.MaxTokens != DefaultMaxTokens {
		t.Fatalf("max_tokens = %d", gotBody.MaxTokens)
	}
	if resp.Text != `{"is_off_topic":false,"confidence":0.1}` {
		t.Fatalf("text = %q", resp.Text)
	}
}

func TestComplete_MapsErrors(t *testing.T) {
	tests := []struct {
		status   int
		wantType core.ErrorType
	}{
		{http.StatusUnauthorized, core.ErrAuthentication},
		{http.StatusBadRequest, core.ErrInvalidRequest},
		{http.StatusTooManyRequests, core.ErrAPI},
		{http.StatusInternalServerError, core.ErrAPI},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"x"}}`)
			}))
			defer server.Close()

			_, err := New("k", WithBaseURL(server.URL)).Complete(t.Context(), &reasoning.Request{Prompt: "p"})
			ce, ok := core.AsError(err)
			if !ok {
				t.Fatalf("err=%v, want *core.Error", err)
			}
			if ce.Type != tt.wantType {
				t.Fatalf("type=%q, want %q", ce.Type, tt.wantType)
			}
			if ce.Message != "openai: nope" {
				t.Fatalf("message=%q", ce.Message)
			}
		})
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"x","choices":[]}`)
	}))
	defer server.Close()

	_, err := New("k", WithBaseURL(server.URL)).Complete(t.Context(), &reasoning.Request{Prompt: "p"})
	if err != reasoning.ErrEmptyResponse {
		t.Fatalf("err=%v", err)
	}
}
