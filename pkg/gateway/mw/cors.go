package mw

import (
	"net/http"
	"strings"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/gateway/config"
)

var corsAllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"

var corsAllowedHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"X-Request-ID",
	apiVersionHeader,
}, ", ")

var corsExposedHeaders = strings.Join([]string{
	"X-Request-ID",
	"Retry-After",
}, ", ")

// OriginAllowed reports whether origin is on the allowlist. A "*" entry
// admits every origin; the origin is still echoed back, never "*", because
// responses allow credentials.
func OriginAllowed(cfg config.Config, origin string) bool {
	if origin == "" {
		return false
	}
	if _, ok := cfg.CORSAllowedOrigins["*"]; ok {
		return true
	}
	_, ok := cfg.CORSAllowedOrigins[origin]
	return ok
}

// CORS answers preflights for allowlisted origins and tags their responses.
// The browser dashboard talks to the API from another origin.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		originAllowed := OriginAllowed(cfg, origin)

		if r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != "" {
			if !originAllowed {
				reqID, _ := RequestIDFrom(r.Context())
				writeJSONError(w, http.StatusForbidden, &core.Error{
					Type:      core.ErrInvalidRequest,
					Message:   "cors preflight not allowed",
					Param:     "Origin",
					RequestID: reqID,
				})
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if originAllowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}

		next.ServeHTTP(w, r)
	})
}
