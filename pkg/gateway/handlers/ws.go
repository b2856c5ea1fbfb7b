package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/core/speaker"
	"github.com/meetingmod/moderator/pkg/gateway/config"
	"github.com/meetingmod/moderator/pkg/gateway/lifecycle"
	"github.com/meetingmod/moderator/pkg/gateway/live/protocol"
	"github.com/meetingmod/moderator/pkg/gateway/live/session"
	"github.com/meetingmod/moderator/pkg/gateway/live/sessions"
	"github.com/meetingmod/moderator/pkg/gateway/meetings"
	"github.com/meetingmod/moderator/pkg/gateway/mw"
	"github.com/meetingmod/moderator/pkg/gateway/principal"
	"github.com/meetingmod/moderator/pkg/gateway/ratelimit"
)

const maxMeetingIDLen = 128

// MeetingSocketHandler handles /ws/meetings/{id}: one live session per
// meeting, which owns the meeting state until the socket closes.
type MeetingSocketHandler struct {
	Config    config.Config
	Registry  *meetings.Registry
	Recorder  session.Recorder
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Logger    *slog.Logger

	NewTranscriber func(logger *slog.Logger) session.Transcriber
	NewAnalyzer    func(logger *slog.Logger) session.Analyzer
	Attributor     speaker.Attributor
}

func (h MeetingSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, core.NewAPIError("server is draining").WithCode("draining"), http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}
	meetingID := strings.TrimSpace(r.PathValue("id"))
	if meetingID == "" || len(meetingID) > maxMeetingIDLen {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("invalid meeting id", "id"), http.StatusBadRequest)
		return
	}
	if snap, ok := h.Registry.Get(meetingID); ok && snap.Status == meeting.StatusCompleted {
		writeCoreErrorJSON(w, reqID, completedError(), http.StatusConflict)
		return
	}
	if h.NewTranscriber == nil {
		writeCoreErrorJSON(w, reqID, core.NewConfigurationError("transcription is not configured"), http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.logger().With("meeting_id", meetingID, "request_id", reqID)

	if h.Limiter != nil && h.Config.WSMaxSessionsPerPrincipal > 0 {
		key := principal.Resolve(r, h.Config.TrustProxyHeaders).Key
		dec := h.Limiter.AcquireSession(key, time.Now())
		if !dec.Allowed {
			h.writeWSError(conn, protocol.CodeRateLimited, "too many active meeting sessions")
			return
		}
		defer dec.Permit.Release()
	}

	state, release, err := h.Registry.Claim(meetingID)
	if err != nil {
		code := "session_error"
		if core.IsType(err, core.ErrConflict) {
			code = "conflict"
		}
		h.writeWSError(conn, code, "meeting already has a live session")
		return
	}
	defer release()
	if state.Status() == meeting.StatusCompleted {
		h.writeWSError(conn, "conflict", completedError().Message)
		return
	}

	deps := session.Dependencies{
		Conn:        conn,
		Logger:      h.logger(),
		State:       state,
		Transcriber: h.NewTranscriber(logger),
		Attributor:  h.Attributor,
		Recorder:    h.Recorder,
		Publish:     h.Registry.Publish,
		RequestID:   reqID,
		Config: session.Config{
			MaxJSONMessageBytes:    h.Config.WSMaxJSONBytes,
			MaxAudioFrameBytes:     h.Config.WSMaxAudioFrameBytes,
			MaxAudioFPS:            h.Config.WSMaxAudioFPS,
			MaxAudioBytesPerSecond: h.Config.WSMaxAudioBPS,
			InboundBurstSeconds:    h.Config.WSBurstSeconds,
			PingInterval:           h.Config.WSPingInterval,
			WriteTimeout:           h.Config.WSWriteTimeout,
			ReadTimeout:            h.Config.WSReadTimeout,
			OutboundQueueSize:      128,
			AnalysisWindow:         h.Config.AnalysisWindow,
			DisconnectTimeout:      h.Config.STTDisconnectTimeout,
		},
	}
	if h.NewAnalyzer != nil {
		deps.Analyzer = h.NewAnalyzer(logger)
	}
	s, err := session.New(deps)
	if err != nil {
		logger.Error("session init failed", "error", err)
		h.writeWSError(conn, "internal", "failed to initialize meeting session")
		return
	}

	unregister := h.Sessions.Register(meetingID, sessions.Handle{
		Cancel: s.Cancel,
		Notify: s.Notify,
	})
	defer unregister()

	logger.Info("meeting session started")
	if err := s.Run(); err != nil {
		logger.Warn("meeting session ended with error", "error", err)
	}
}

func (h MeetingSocketHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h MeetingSocketHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	return mw.OriginAllowed(h.Config, origin)
}

func (h MeetingSocketHandler) writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = conn.WriteJSON(protocol.Error(code, message, false))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}

func completedError() *core.Error {
	return core.NewConflictError("meeting has already completed")
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
