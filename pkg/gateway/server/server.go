package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/meetingmod/moderator/pkg/gateway/config"
	"github.com/meetingmod/moderator/pkg/gateway/handlers"
	"github.com/meetingmod/moderator/pkg/gateway/lifecycle"
	"github.com/meetingmod/moderator/pkg/gateway/live/session"
	"github.com/meetingmod/moderator/pkg/gateway/live/sessions"
	"github.com/meetingmod/moderator/pkg/gateway/meetings"
	"github.com/meetingmod/moderator/pkg/gateway/mw"
	"github.com/meetingmod/moderator/pkg/gateway/ratelimit"
	"github.com/meetingmod/moderator/pkg/gateway/upstream"
	"github.com/meetingmod/moderator/pkg/principles"
	"github.com/meetingmod/moderator/pkg/storage"
)

// Dependencies are the long-lived collaborators built by the caller.
// Registry, Sessions and Lifecycle are created when nil.
type Dependencies struct {
	Registry  *meetings.Registry
	Catalog   *principles.Catalog
	Recorder  storage.Recorder
	Loader    storage.Loader
	Store     handlers.Pinger
	Upstreams *upstream.Factory
	Sessions  *sessions.Tracker
	Lifecycle *lifecycle.Lifecycle
	// Files lists the report paths of a saved meeting.
	Files func(id string) []string
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies

	limiter *ratelimit.Limiter
}

// NewHTTPClient returns the client shared by the reasoning backends.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		},
	}
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = meetings.NewRegistry(nil)
	}
	if deps.Sessions == nil {
		deps.Sessions = sessions.NewTracker()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxConcurrentSessions: cfg.WSMaxSessionsPerPrincipal,
		}),
	}

	s.routes()
	return s
}

func (s *Server) Sessions() *sessions.Tracker { return s.deps.Sessions }

func (s *Server) Lifecycle() *lifecycle.Lifecycle { return s.deps.Lifecycle }

func (s *Server) Registry() *meetings.Registry { return s.deps.Registry }

func (s *Server) routes() {
	s.mux.Handle("/", handlers.NotFoundHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.deps.Lifecycle,
		Store:     s.deps.Store,
		Sessions:  s.deps.Sessions,
	})
	s.mux.Handle("GET /api/v1/health", handlers.APIHealthHandler{})

	m := handlers.MeetingsHandler{
		Config:   s.cfg,
		Registry: s.deps.Registry,
		Recorder: s.deps.Recorder,
		Loader:   s.deps.Loader,
		Sessions: s.deps.Sessions,
		Files:    s.deps.Files,
		Logger:   s.logger,
	}
	if s.deps.Catalog != nil {
		m.Principles = s.deps.Catalog
	}
	s.mux.HandleFunc("GET /api/v1/meetings", m.List)
	s.mux.HandleFunc("POST /api/v1/meetings", m.Create)
	s.mux.HandleFunc("GET /api/v1/meetings/{id}", m.Get)
	s.mux.HandleFunc("POST /api/v1/meetings/{id}/start", m.Start)
	s.mux.HandleFunc("POST /api/v1/meetings/{id}/end", m.End)
	s.mux.HandleFunc("POST /api/v1/meetings/{id}/save", m.Save)

	if s.deps.Catalog != nil {
		p := handlers.PrinciplesHandler{Config: s.cfg, Catalog: s.deps.Catalog}
		s.mux.HandleFunc("GET /api/v1/principles", p.List)
		s.mux.HandleFunc("POST /api/v1/principles", p.Create)
		s.mux.HandleFunc("GET /api/v1/principles/{id}", p.Get)
		s.mux.HandleFunc("PUT /api/v1/principles/{id}", p.Update)
		s.mux.HandleFunc("DELETE /api/v1/principles/{id}", p.Delete)
	}

	ws := handlers.MeetingSocketHandler{
		Config:    s.cfg,
		Registry:  s.deps.Registry,
		Recorder:  s.deps.Recorder,
		Limiter:   s.limiter,
		Lifecycle: s.deps.Lifecycle,
		Sessions:  s.deps.Sessions,
		Logger:    s.logger,
	}
	if f := s.deps.Upstreams; f != nil {
		ws.NewTranscriber = func(l *slog.Logger) session.Transcriber { return f.Transcriber(l) }
		ws.NewAnalyzer = func(l *slog.Logger) session.Analyzer { return f.Orchestrator(l) }
		ws.Attributor = f.Attributor()
	}
	s.mux.Handle("/ws/meetings/{id}", ws)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.APIVersion(h)
	h = mw.RateLimit(s.cfg, s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
