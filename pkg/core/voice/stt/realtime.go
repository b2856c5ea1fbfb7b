// Package stt streams meeting audio to a realtime transcription service and
// turns its events into committed, attributed utterances.
package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetingmod/moderator/pkg/core"
)

const (
	DefaultRealtimeURL        = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"
	DefaultTranscriptionModel = "whisper-1"
)

// Config controls one Manager. Zero fields take the defaults below.
type Config struct {
	APIKey             string
	URL                string
	TranscriptionModel string
	Language           string

	VADThreshold      float64
	PrefixPaddingMS   int
	SilenceDurationMS int

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration

	DisableAutoReconnect bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	// StableAfter is how long a connection must stay up before the
	// reconnect budget is replenished.
	StableAfter       time.Duration
	DisconnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultRealtimeURL
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = DefaultTranscriptionModel
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = 0.5
	}
	if c.PrefixPaddingMS <= 0 {
		c.PrefixPaddingMS = 300
	}
	if c.SilenceDurationMS <= 0 {
		c.SilenceDurationMS = 1500
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 10 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 3
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.StableAfter <= 0 {
		c.StableAfter = time.Minute
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = 5 * time.Second
	}
	return c
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSleep replaces the backoff sleeper. It must return early with the
// context's error when ctx is cancelled.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// Manager owns one streaming connection to the realtime transcription
// service: handshake, receive loop, bounded reconnection, and event dispatch.
//
// op is a one-slot semaphore serializing Connect and Disconnect; Disconnect
// can give up on it. mu guards connection state and is the only lock the
// receive goroutine takes.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	op chan struct{}

	mu            sync.Mutex
	state         ConnectionState
	conn          *websocket.Conn
	autoReconnect bool
	stopping      bool
	connectCancel context.CancelFunc
	attempts      int
	connectedAt   time.Time
	dispatch      *dispatcher
	loopCancel    context.CancelFunc
	loopDone      chan struct{}

	writeMu sync.Mutex
}

// New creates a disconnected Manager.
func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		dialer: &websocket.Dialer{},
		now:    time.Now,
		sleep:  sleepContext,
		state:  Disconnected,
		op:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "stt")
	return m
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect dials the provider, configures the session, and returns once the
// provider acknowledges the configuration. Events flow to observer until
// Disconnect. Calling Connect while a connection is active is a no-op.
func (m *Manager) Connect(ctx context.Context, observer Observer) error {
	if strings.TrimSpace(m.cfg.APIKey) == "" {
		return core.NewConfigurationError("OPENAI_API_KEY is not set").WithCode(CodeConfiguration)
	}

	m.op <- struct{}{}
	defer func() { <-m.op }()

	m.mu.Lock()
	if m.state.Active() {
		state := m.state
		m.mu.Unlock()
		m.logger.Warn("connect ignored: connection already active", "state", state.String())
		return nil
	}
	if m.dispatch != nil {
		m.dispatch.close()
	}
	m.dispatch = newDispatcher(observer, m.logger)
	m.autoReconnect = !m.cfg.DisableAutoReconnect
	m.stopping = false
	m.attempts = 0
	hctx, hcancel := context.WithCancel(ctx)
	m.connectCancel = hcancel
	m.transition(Connecting)
	m.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn, err := m.handshake(hctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCancel = nil
	hcancel()
	if m.stopping {
		// Disconnect arrived mid-handshake.
		cancel()
		if conn != nil {
			_ = conn.Close()
		}
		m.transition(Disconnected)
		return core.NewConnectionError("connect aborted by disconnect", false, context.Canceled).WithCode(CodeConnection)
	}
	if err != nil {
		cancel()
		m.emitError(err)
		m.transition(Failed)
		return err
	}

	m.conn = conn
	m.connectedAt = m.now()
	m.loopCancel = cancel
	m.loopDone = make(chan struct{})
	m.transition(Connected)
	go m.run(loopCtx, conn, m.loopDone)

	m.logger.Info("stt connected", "url", m.cfg.URL)
	return nil
}

// Disconnect stops reconnection, aborts an in-flight handshake, cancels the
// receive loop, and closes the transport. It waits at most DisconnectTimeout
// (or until ctx is done), always leaves the Manager Disconnected, and is safe
// to call repeatedly.
func (m *Manager) Disconnect(ctx context.Context) {
	timer := time.NewTimer(m.cfg.DisconnectTimeout)
	defer timer.Stop()

	m.mu.Lock()
	m.autoReconnect = false
	m.stopping = true
	if m.connectCancel != nil {
		m.connectCancel()
	}
	m.mu.Unlock()

	if !m.acquireOp(ctx, timer.C) {
		m.finishDisconnect()
		return
	}
	defer func() { <-m.op }()

	m.mu.Lock()
	cancel, done, conn := m.loopCancel, m.loopDone, m.conn
	m.loopCancel, m.loopDone, m.conn = nil, nil, nil
	if cancel != nil {
		cancel()
	}
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			m.logger.Warn("stt disconnect wait abandoned", "error", ctx.Err())
		case <-timer.C:
			m.logger.Warn("stt receive loop did not stop in time; forcing teardown", "timeout", m.cfg.DisconnectTimeout)
		}
	}
	m.finishDisconnect()
}

// acquireOp takes the op slot unless ctx or expired fires first. A free slot
// always wins over an already-cancelled ctx.
func (m *Manager) acquireOp(ctx context.Context, expired <-chan time.Time) bool {
	select {
	case m.op <- struct{}{}:
		return true
	default:
	}
	select {
	case m.op <- struct{}{}:
		return true
	case <-ctx.Done():
		m.logger.Warn("stt disconnect: gave up waiting for connect", "error", ctx.Err())
	case <-expired:
		m.logger.Warn("stt disconnect: connect still running; forcing teardown", "timeout", m.cfg.DisconnectTimeout)
	}
	return false
}

func (m *Manager) finishDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Disconnected {
		m.transition(Disconnected)
	}
	if m.dispatch != nil {
		m.dispatch.close()
		m.dispatch = nil
	}
}

// SendAudio forwards one base64-encoded PCM16 chunk. It returns false without
// writing when the chunk is empty or the connection is not established.
func (m *Manager) SendAudio(b64 string) bool {
	if strings.TrimSpace(b64) == "" {
		return false
	}
	return m.send(audioAppend{Type: msgAudioAppend, Audio: b64})
}

// SendPCM encodes and forwards raw PCM16 audio.
func (m *Manager) SendPCM(pcm []byte) bool {
	if len(pcm) == 0 {
		return false
	}
	return m.SendAudio(base64.StdEncoding.EncodeToString(pcm))
}

// Commit asks the provider to transcribe the buffered audio now.
func (m *Manager) Commit() bool {
	return m.send(controlMessage{Type: msgAudioCommit})
}

// ClearBuffer discards audio buffered upstream.
func (m *Manager) ClearBuffer() bool {
	return m.send(controlMessage{Type: msgAudioClear})
}

func (m *Manager) send(v any) bool {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	if state != Connected || conn == nil {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("stt encode failed", "error", err)
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Warn("stt send failed", "error", err)
		return false
	}
	return true
}

// transition must be called with mu held.
func (m *Manager) transition(next ConnectionState) {
	prev := m.state
	if prev == next {
		return
	}
	if !prev.CanTransitionTo(next) {
		m.logger.Error("illegal stt state transition refused", "from", prev.String(), "to", next.String())
		return
	}
	m.state = next
	m.logger.Debug("stt state", "from", prev.String(), "to", next.String())
	m.emit(StateChangeEvent{From: prev, To: next})
}

// emit must be called with mu held so events keep transition order.
func (m *Manager) emit(ev Event) {
	if m.dispatch != nil {
		m.dispatch.push(ev)
	}
}

func (m *Manager) emitError(err error) {
	ce, ok := core.AsError(err)
	if !ok {
		ce = core.NewConnectionError(err.Error(), true, err).WithCode(CodeConnection)
	}
	m.emit(ErrorEvent{Err: ce})
}

func (m *Manager) handshake(ctx context.Context) (*websocket.Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+m.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := m.dialer.DialContext(hctx, m.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			recoverable := resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden
			msg := fmt.Sprintf("websocket connect: status %d", resp.StatusCode)
			if len(body) > 0 {
				msg = fmt.Sprintf("websocket connect (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return nil, core.NewConnectionError(msg, recoverable, err).WithCode(CodeConnection)
		}
		return nil, core.NewConnectionError(fmt.Sprintf("websocket connect: %v", err), true, err).WithCode(CodeConnection)
	}

	stop := context.AfterFunc(hctx, func() { _ = conn.Close() })
	defer stop()

	fail := func(msg string, recoverable bool, cause error) (*websocket.Conn, error) {
		_ = conn.Close()
		if hctx.Err() != nil {
			msg = "handshake timed out: " + msg
		}
		return nil, core.NewConnectionError(msg, recoverable, cause).WithCode(CodeConnection)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteJSON(m.cfg.sessionUpdate()); err != nil {
		return fail(fmt.Sprintf("send session config: %v", err), true, err)
	}

	if deadline, ok := hctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fail(fmt.Sprintf("await session ack: %v", err), true, err)
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			m.logger.Warn("stt handshake: malformed message skipped", "error", err)
			continue
		}
		switch ev.Type {
		case evSessionUpdated, evTranscriptionSessionReady:
			m.armReadDeadline(conn)
			return conn, nil
		case evSessionCreated:
			m.logger.Debug("stt session created")
		case evError:
			return fail("session rejected: "+ev.Error.text(), false, nil)
		default:
			m.logger.Debug("stt handshake: ignoring event", "type", ev.Type)
		}
	}
}

func (m *Manager) armReadDeadline(conn *websocket.Conn) {
	if m.cfg.PingInterval < 0 {
		_ = conn.SetReadDeadline(time.Time{})
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.PingInterval + m.cfg.PingTimeout))
}

// run is the single receive goroutine. It survives reconnects and exits when
// the connection is lost for good or loopCtx is cancelled.
func (m *Manager) run(loopCtx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for conn != nil {
		err := m.receive(loopCtx, conn)
		conn = m.afterClosure(loopCtx, conn, err)
	}
}

func (m *Manager) receive(loopCtx context.Context, conn *websocket.Conn) error {
	conn.SetPongHandler(func(string) error {
		m.armReadDeadline(conn)
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	if m.cfg.PingInterval > 0 {
		go m.keepalive(conn, pingDone)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.armReadDeadline(conn)
		if loopCtx.Err() != nil {
			return loopCtx.Err()
		}
		m.handleMessage(data)
	}
}

func (m *Manager) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (m *Manager) handleMessage(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		perr := core.NewProtocolError("malformed provider message", err)
		m.logger.Warn("stt message skipped", "error", perr)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case evSessionCreated, evSessionUpdated, evTranscriptionSessionReady:
		m.logger.Debug("stt session event", "type", ev.Type)
	case evTranscriptionCompleted:
		text := strings.TrimSpace(ev.Transcript)
		if text == "" {
			return
		}
		m.emit(TranscriptEvent{ItemID: ev.ItemID, Text: text, ReceivedAt: m.now()})
	case evTranscriptionFailed:
		m.emit(ErrorEvent{Err: providerError("transcription failed: " + ev.Error.text())})
	case evSpeechStarted:
		m.emit(SpeechStartedEvent{ItemID: ev.ItemID, AudioStartMS: ev.AudioStartMS})
	case evSpeechStopped:
		m.emit(SpeechEndEvent{ItemID: ev.ItemID, AudioEndMS: ev.AudioEndMS})
	case evBufferCommitted:
		m.logger.Debug("stt buffer committed", "item_id", ev.ItemID)
	case evError:
		m.emit(ErrorEvent{Err: providerError(ev.Error.text())})
	default:
		m.logger.Debug("stt event ignored", "type", ev.Type)
	}
}

// afterClosure decides what follows a lost connection and returns the
// replacement connection, or nil when the loop should exit.
func (m *Manager) afterClosure(loopCtx context.Context, conn *websocket.Conn, cause error) *websocket.Conn {
	_ = conn.Close()

	m.mu.Lock()
	if loopCtx.Err() != nil {
		m.mu.Unlock()
		return nil
	}
	if m.conn == conn {
		m.conn = nil
	}
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure) || !m.autoReconnect {
		m.logger.Info("stt connection closed", "error", cause)
		m.transition(Disconnected)
		m.mu.Unlock()
		return nil
	}
	if !m.connectedAt.IsZero() && m.now().Sub(m.connectedAt) >= m.cfg.StableAfter {
		m.attempts = 0
	}
	m.logger.Warn("stt connection lost", "error", cause)
	m.transition(Reconnecting)
	m.mu.Unlock()

	return m.reconnect(loopCtx)
}

func (m *Manager) reconnect(loopCtx context.Context) *websocket.Conn {
	for {
		m.mu.Lock()
		if loopCtx.Err() != nil {
			m.mu.Unlock()
			return nil
		}
		if m.attempts >= m.cfg.MaxReconnectAttempts {
			m.logger.Error("stt reconnection attempts exhausted", "attempts", m.attempts)
			m.emit(ErrorEvent{Err: core.NewConnectionError("max reconnection attempts exceeded", false, nil).WithCode(CodeConnection)})
			m.transition(Failed)
			m.mu.Unlock()
			return nil
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		delay := backoffDelay(m.cfg.ReconnectBaseDelay, attempt)
		m.logger.Info("stt reconnecting", "attempt", attempt, "max", m.cfg.MaxReconnectAttempts, "delay", delay)
		if err := m.sleep(loopCtx, delay); err != nil {
			return nil
		}

		conn, err := m.handshake(loopCtx)

		m.mu.Lock()
		if loopCtx.Err() != nil {
			m.mu.Unlock()
			if conn != nil {
				_ = conn.Close()
			}
			return nil
		}
		if err != nil {
			m.logger.Warn("stt reconnect attempt failed", "attempt", attempt, "error", err)
			m.emitError(err)
			m.mu.Unlock()
			continue
		}
		m.conn = conn
		m.connectedAt = m.now()
		m.transition(Connected)
		m.mu.Unlock()
		m.logger.Info("stt reconnected", "attempt", attempt)
		return conn
	}
}

// providerError wraps an error reported in-band by the provider. The
// connection stays up, so it is always recoverable.
func providerError(msg string) *core.Error {
	ce := core.NewAPIError(msg).WithCode(CodeTranscription)
	ce.Recoverable = true
	return ce
}

// backoffDelay returns base * 2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
