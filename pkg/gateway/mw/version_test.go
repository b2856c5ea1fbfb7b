package mw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIVersion(t *testing.T) {
	cases := []struct {
		name     string
		method   string
		path     string
		versions []string
		upgrade  bool
		want     int
	}{
		{name: "no header defaults to v1", method: http.MethodPost, path: "/api/v1/meetings", want: http.StatusNoContent},
		{name: "supported", method: http.MethodPost, path: "/api/v1/meetings", versions: []string{"1"}, want: http.StatusNoContent},
		{name: "whitespace and duplicates", method: http.MethodPost, path: "/api/v1/meetings", versions: []string{" 1 ", "1, 1"}, want: http.StatusNoContent},
		{name: "unsupported", method: http.MethodPost, path: "/api/v1/meetings", versions: []string{"2"}, want: http.StatusBadRequest},
		{name: "mixed", method: http.MethodPost, path: "/api/v1/meetings", versions: []string{"1,2"}, want: http.StatusBadRequest},
		{name: "probe bypass", method: http.MethodGet, path: "/healthz", versions: []string{"2"}, want: http.StatusNoContent},
		{name: "websocket bypass", method: http.MethodGet, path: "/api/v1/ws", versions: []string{"2"}, upgrade: true, want: http.StatusNoContent},
		{name: "options bypass", method: http.MethodOptions, path: "/api/v1/meetings", versions: []string{"2"}, want: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := APIVersion(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))
			req := httptest.NewRequest(tc.method, tc.path, nil).WithContext(WithRequestID(context.Background(), "req_abc123"))
			for _, v := range tc.versions {
				req.Header.Add(apiVersionHeader, v)
			}
			if tc.upgrade {
				req.Header.Set("Connection", "keep-alive, Upgrade")
				req.Header.Set("Upgrade", "websocket")
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			if tc.want != http.StatusBadRequest {
				return
			}
			body := rr.Body.String()
			for _, want := range []string{
				`"type":"invalid_request_error"`,
				`"code":"unsupported_version"`,
				`"param":"X-Moderator-Version"`,
				`"request_id":"req_abc123"`,
			} {
				if !strings.Contains(body, want) {
					t.Fatalf("body %q missing %s", body, want)
				}
			}
		})
	}
}
