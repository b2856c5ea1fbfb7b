package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/gateway/auth"
	"github.com/meetingmod/moderator/pkg/gateway/config"
	"github.com/meetingmod/moderator/pkg/gateway/principal"
	"github.com/meetingmod/moderator/pkg/gateway/ratelimit"
)

// RateLimit applies the per-principal REST budget. Websocket upgrades are
// capped separately by the meeting socket handler.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsHealthPath(r.URL.Path) || r.Method == http.MethodOptions || auth.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		who := principal.Resolve(r, cfg.TrustProxyHeaders)
		dec := limiter.AcquireRequest(who.Key, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			e := core.NewRateLimitError("rate limit exceeded", dec.RetryAfter)
			e.RequestID = reqID
			if e.RetryAfter != nil {
				w.Header().Set("Retry-After", strconv.Itoa(*e.RetryAfter))
			}
			writeJSONError(w, http.StatusTooManyRequests, e)
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
