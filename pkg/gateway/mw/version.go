package mw

import (
	"net/http"
	"strings"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/gateway/auth"
)

const (
	apiVersionHeader    = "X-Moderator-Version"
	supportedAPIVersion = "1"
)

// APIVersion rejects /api/v1 requests that ask for a different API version.
// A missing header means version 1.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || auth.IsWebSocketUpgrade(r) || !isV1Path(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		for _, version := range parseHeaderCSVValues(r.Header.Values(apiVersionHeader)) {
			if version == supportedAPIVersion {
				continue
			}
			reqID, _ := RequestIDFrom(r.Context())
			writeJSONError(w, http.StatusBadRequest, &core.Error{
				Type:      core.ErrInvalidRequest,
				Message:   "unsupported API version",
				Param:     apiVersionHeader,
				Code:      "unsupported_version",
				RequestID: reqID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isV1Path(path string) bool {
	return path == "/api/v1" || strings.HasPrefix(path, "/api/v1/")
}

func parseHeaderCSVValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
