package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meetingmod/moderator/pkg/gateway/auth"
	"github.com/meetingmod/moderator/pkg/gateway/config"
)

func authTestHandler(mode config.AuthMode) http.Handler {
	cfg := config.Config{AuthMode: mode, APIKeys: map[string]struct{}{"mod_sk_test": {}}}
	return Auth(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			w.Header().Set("X-Test-Principal", p.APIKey)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAuth_Modes(t *testing.T) {
	cases := []struct {
		name      string
		mode      config.AuthMode
		path      string
		token     string
		upgrade   bool
		want      int
		principal string
	}{
		{name: "required rejects missing bearer", mode: config.AuthModeRequired, path: "/api/v1/meetings", want: http.StatusUnauthorized},
		{name: "required rejects wrong key", mode: config.AuthModeRequired, path: "/api/v1/meetings", token: "nope", want: http.StatusUnauthorized},
		{name: "required accepts key", mode: config.AuthModeRequired, path: "/api/v1/meetings", token: "mod_sk_test", want: http.StatusNoContent, principal: "mod_sk_test"},
		{name: "required lets probes through", mode: config.AuthModeRequired, path: "/readyz", want: http.StatusNoContent},
		{name: "optional allows anonymous", mode: config.AuthModeOptional, path: "/api/v1/meetings", want: http.StatusNoContent},
		{name: "optional still rejects wrong key", mode: config.AuthModeOptional, path: "/api/v1/meetings", token: "nope", want: http.StatusUnauthorized},
		{name: "disabled ignores keys", mode: config.AuthModeDisabled, path: "/api/v1/meetings", token: "nope", want: http.StatusNoContent},
		{name: "websocket query token", mode: config.AuthModeRequired, path: "/ws/meetings/m1?access_token=mod_sk_test", upgrade: true, want: http.StatusNoContent, principal: "mod_sk_test"},
		{name: "websocket without token", mode: config.AuthModeRequired, path: "/ws/meetings/m1", upgrade: true, want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			if tc.upgrade {
				req.Header.Set("Connection", "Upgrade")
				req.Header.Set("Upgrade", "websocket")
			}
			rr := httptest.NewRecorder()
			authTestHandler(tc.mode).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			if got := rr.Header().Get("X-Test-Principal"); got != tc.principal {
				t.Fatalf("principal=%q, want %q", got, tc.principal)
			}
		})
	}
}
