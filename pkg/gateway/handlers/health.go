package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/meetingmod/moderator/pkg/gateway/config"
	"github.com/meetingmod/moderator/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// APIHealthHandler serves GET /api/v1/health.
type APIHealthHandler struct{}

func (h APIHealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler reports 503 while draining or when the store is unreachable.
// Degraded features (missing provider keys) are listed but do not fail the
// probe.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Store     Pinger
	Sessions  interface{ Count() int }
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool       `json:"ok"`
		AuthMode      string     `json:"auth_mode"`
		Draining      bool       `json:"draining"`
		DrainingSince *time.Time `json:"draining_since,omitempty"`
		LiveSessions  int        `json:"live_sessions"`
		Judges        []string   `json:"judges"`
		Reasoning     string     `json:"reasoning_provider"`
		Errors        []string   `json:"errors,omitempty"`
		Issues        []string   `json:"issues,omitempty"`
	}

	var errs []string
	var drainingSince *time.Time
	since, draining := h.Lifecycle.DrainingSince()
	if draining {
		drainingSince = &since
		errs = append(errs, "draining")
	}
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.Store.Ping(ctx)
		cancel()
		if err != nil {
			errs = append(errs, "database unreachable: "+err.Error())
		}
	}
	live := 0
	if h.Sessions != nil {
		live = h.Sessions.Count()
	}

	status := http.StatusOK
	if len(errs) > 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{
		OK:            len(errs) == 0,
		AuthMode:      string(h.Config.AuthMode),
		Draining:      draining,
		DrainingSince: drainingSince,
		LiveSessions:  live,
		Judges:        h.Config.Judges,
		Reasoning:     h.Config.ReasoningProvider,
		Errors:        errs,
		Issues:        h.Config.Issues(),
	})
}
