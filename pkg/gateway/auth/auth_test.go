package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		url     string
		upgrade bool
		want    string
		ok      bool
	}{
		{name: "bearer", header: "Bearer key_1", url: "/api/v1/meetings", want: "key_1", ok: true},
		{name: "not bearer", header: "Basic abc", url: "/api/v1/meetings"},
		{name: "empty bearer", header: "Bearer   ", url: "/api/v1/meetings"},
		{name: "query ignored without upgrade", url: "/api/v1/meetings?access_token=key_2"},
		{name: "query on upgrade", url: "/ws/meetings/m1?access_token=key_2", upgrade: true, want: "key_2", ok: true},
		{name: "header wins on upgrade", header: "Bearer key_1", url: "/ws/meetings/m1?access_token=key_2", upgrade: true, want: "key_1", ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.upgrade {
				req.Header.Set("Connection", "keep-alive, Upgrade")
				req.Header.Set("Upgrade", "websocket")
			}
			got, ok := ParseToken(req)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("ParseToken() = %q, %v; want %q, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
