// Package session runs one live meeting: it streams client audio to the
// transcription provider, attributes and records transcripts, asks the
// orchestrator for interventions, and forwards everything to the client.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/core/orchestrator"
	"github.com/meetingmod/moderator/pkg/core/speaker"
	"github.com/meetingmod/moderator/pkg/core/voice/stt"
	"github.com/meetingmod/moderator/pkg/gateway/live/protocol"
)

const (
	outboundPriorityQueueSize = 16
	maxPendingDurations       = 256
)

var errBackpressure = errors.New("live outbound backpressure")

// Transcriber is the subset of stt.Manager a session drives.
type Transcriber interface {
	Connect(ctx context.Context, observer stt.Observer) error
	Disconnect(ctx context.Context)
	SendAudio(b64 string) bool
	SendPCM(pcm []byte) bool
	Commit() bool
	ClearBuffer() bool
}

type Analyzer interface {
	Analyze(ctx context.Context, snap meeting.Snapshot, window []meeting.TranscriptEntry) orchestrator.Outcome
}

// Recorder persists the session's results when it ends.
type Recorder interface {
	SaveTranscript(ctx context.Context, snap meeting.Snapshot) error
	SaveInterventions(ctx context.Context, snap meeting.Snapshot) error
}

type Config struct {
	MaxJSONMessageBytes    int64
	MaxAudioFrameBytes     int
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int
	PingInterval           time.Duration
	WriteTimeout           time.Duration
	ReadTimeout            time.Duration
	OutboundQueueSize      int
	AnalysisWindow         int
	AttributionContext     int
	AttributionTimeout     time.Duration
	DrainTimeout           time.Duration
	DisconnectTimeout      time.Duration
}

type Dependencies struct {
	Conn        *websocket.Conn
	Logger      *slog.Logger
	State       *meeting.State
	Transcriber Transcriber
	Analyzer    Analyzer
	Attributor  speaker.Attributor
	Recorder    Recorder
	Publish     func(meeting.Snapshot)
	RequestID   string
	Config      Config
	Now         func() time.Time
}

// Coordinator owns one meeting's State for the lifetime of a websocket
// connection. Only the Run goroutine touches the State.
type Coordinator struct {
	conn        *websocket.Conn
	logger      *slog.Logger
	state       *meeting.State
	transcriber Transcriber
	analyzer    Analyzer
	attributor  speaker.Attributor
	recorder    Recorder
	publish     func(meeting.Snapshot)
	cfg         Config
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan []byte
	outboundNormal   chan []byte
	sttEvents        chan stt.Event
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type attributionJob struct {
	event  stt.TranscriptEvent
	roster []meeting.Participant
	recent []meeting.TranscriptEntry
}

type attributionResult struct {
	event       stt.TranscriptEvent
	attribution speaker.Attribution
}

func New(deps Dependencies) (*Coordinator, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("meeting state is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Attributor == nil {
		deps.Attributor = speaker.Static{}
	}
	if deps.Publish == nil {
		deps.Publish = func(meeting.Snapshot) {}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg := deps.Config
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 128
	}
	if cfg.MaxAudioFrameBytes <= 0 {
		cfg.MaxAudioFrameBytes = 256 * 1024
	}
	if cfg.AnalysisWindow <= 0 {
		cfg.AnalysisWindow = 10
	}
	if cfg.AttributionContext <= 0 {
		cfg.AttributionContext = 5
	}
	if cfg.AttributionTimeout <= 0 {
		cfg.AttributionTimeout = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		conn:             deps.Conn,
		logger:           deps.Logger.With("meeting_id", deps.State.ID(), "request_id", deps.RequestID),
		state:            deps.State,
		transcriber:      deps.Transcriber,
		analyzer:         deps.Analyzer,
		attributor:       deps.Attributor,
		recorder:         deps.Recorder,
		publish:          deps.Publish,
		cfg:              cfg,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan []byte, min(cfg.OutboundQueueSize, outboundPriorityQueueSize)),
		outboundNormal:   make(chan []byte, cfg.OutboundQueueSize),
		sttEvents:        make(chan stt.Event, 64),
	}, nil
}

// Run drives the session until the client leaves, sends "end", or Cancel is
// called. On return the transcription connection is closed, the final state
// is published, and the transcript and interventions are persisted.
func (c *Coordinator) Run() error {
	defer c.cancel()

	if c.cfg.MaxJSONMessageBytes > 0 {
		c.conn.SetReadLimit(c.cfg.MaxJSONMessageBytes)
	}
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		})
	}

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:           c.conn,
			ctx:          c.ctx,
			pingInterval: c.cfg.PingInterval,
			writeTimeout: c.cfg.WriteTimeout,
			priority:     c.outboundPriority,
			normal:       c.outboundNormal,
		}
		writerErrCh <- w.Run()
	}()
	readCh := make(chan inboundFrame, 64)
	go c.readLoop(readCh)

	if c.state.Status() == meeting.StatusPreparing {
		if err := c.state.Start(c.now()); err != nil {
			c.logger.Warn("meeting start failed", "error", err)
		}
	}
	c.publishState()
	_ = c.sendJSON(protocol.MeetingState(c.state.Snapshot()))

	connectErrCh := make(chan error, 1)
	go func() { connectErrCh <- c.transcriber.Connect(c.ctx, c.observe) }()

	limiter := newAudioLimiter(c.now, c.cfg.MaxAudioFPS, c.cfg.MaxAudioBytesPerSecond, c.cfg.InboundBurstSeconds)
	limitedNotified := false

	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	jobs := make(chan attributionJob)
	attributed := make(chan attributionResult)
	go c.attributionWorker(workCtx, jobs, attributed)

	var (
		wg         sync.WaitGroup
		pending    []attributionJob
		starts     = make(map[string]int)
		durations  = make(map[string]float64)
		analysisCh = make(chan orchestrator.Outcome, 1)
		analyzing  bool
		rerun      bool
		endMeeting bool
	)
	defer wg.Wait()

	jobsCh := func() chan<- attributionJob {
		if len(pending) == 0 {
			return nil
		}
		return jobs
	}
	nextJob := func() attributionJob {
		if len(pending) == 0 {
			return attributionJob{}
		}
		return pending[0]
	}
	enqueue := func(ev stt.TranscriptEvent) {
		snap := c.state.Snapshot()
		pending = append(pending, attributionJob{
			event:  ev,
			roster: snap.Participants,
			recent: snap.Recent(c.cfg.AttributionContext),
		})
	}
	record := func(res attributionResult) {
		entry := meeting.TranscriptEntry{
			ID:         meeting.NewTranscriptID(),
			Timestamp:  res.event.ReceivedAt,
			Speaker:    res.attribution.Speaker,
			Text:       res.event.Text,
			Duration:   durations[res.event.ItemID],
			Confidence: res.attribution.Confidence,
		}
		delete(durations, res.event.ItemID)
		if entry.Timestamp.IsZero() {
			entry.Timestamp = c.now().UTC()
		}
		if !c.state.AppendTranscript(entry) {
			return
		}
		c.publishState()
		snap := c.state.Snapshot()
		last := snap.Transcript[len(snap.Transcript)-1]
		_ = c.sendJSON(protocol.Transcript(last))
		_ = c.sendJSON(protocol.SpeakerStats(snap))
	}
	startAnalysis := func() {
		if c.analyzer == nil {
			return
		}
		if analyzing {
			rerun = true
			return
		}
		snap := c.state.Snapshot()
		window := snap.Recent(c.cfg.AnalysisWindow)
		analyzing = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := c.analyzer.Analyze(c.ctx, snap, window)
			select {
			case analysisCh <- out:
			case <-c.ctx.Done():
			}
		}()
	}
	forward := func(size int, send func() bool) {
		if size > c.cfg.MaxAudioFrameBytes {
			_ = c.sendError(protocol.CodeBadRequest, "audio frame exceeds max size", true)
			return
		}
		if !limiter.Allow(size) {
			if !limitedNotified {
				limitedNotified = true
				_ = c.sendError(protocol.CodeRateLimited, "inbound audio rate limit exceeded", true)
			}
			return
		}
		limitedNotified = false
		if !send() {
			c.logger.Debug("audio dropped: transcription not connected")
		}
	}

	defer func() {
		c.shutdown(jobs, attributed, pending, record, stopWork, endMeeting)
	}()

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err != nil {
				c.logger.Info("client write failed", "error", err)
			}
			return nil
		case err := <-connectErrCh:
			connectErrCh = nil
			if err == nil {
				continue
			}
			c.logger.Warn("transcription connect failed", "error", err)
			if core.IsType(err, core.ErrConfiguration) {
				_ = c.sendError(stt.CodeConfiguration, "Speech-to-text service is not properly configured", false)
			}
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				return nil
			}
			switch frame.messageType {
			case websocket.TextMessage:
				msg, err := protocol.DecodeClientMessage(frame.data)
				if err != nil {
					code := protocol.CodeBadRequest
					var de *protocol.DecodeError
					if errors.As(err, &de) {
						code = de.Code
					}
					_ = c.sendError(code, err.Error(), true)
					continue
				}
				switch m := msg.(type) {
				case protocol.ClientAudio:
					size := base64.StdEncoding.DecodedLen(len(m.Data))
					forward(size, func() bool { return c.transcriber.SendAudio(m.Data) })
				case protocol.ClientCommit:
					c.transcriber.Commit()
				case protocol.ClientClear:
					c.transcriber.ClearBuffer()
				case protocol.ClientEnd:
					endMeeting = true
					return nil
				}
			case websocket.BinaryMessage:
				data := frame.data
				forward(len(data), func() bool { return c.transcriber.SendPCM(data) })
			}
		case ev := <-c.sttEvents:
			switch e := ev.(type) {
			case stt.TranscriptEvent:
				enqueue(e)
			case stt.SpeechStartedEvent:
				starts[e.ItemID] = e.AudioStartMS
			case stt.SpeechEndEvent:
				if start, ok := starts[e.ItemID]; ok {
					delete(starts, e.ItemID)
					if len(durations) >= maxPendingDurations {
						clear(durations)
					}
					if e.AudioEndMS > start {
						durations[e.ItemID] = float64(e.AudioEndMS-start) / 1000
					}
				}
				startAnalysis()
			case stt.ErrorEvent:
				code, msg, recoverable := stt.CodeTranscription, "transcription error", true
				if e.Err != nil {
					if e.Err.Code != "" {
						code = e.Err.Code
					}
					msg = e.Err.Message
					recoverable = e.Err.Recoverable
				}
				_ = c.sendError(code, msg, recoverable)
			case stt.StateChangeEvent:
				if status := sttStatus(e.To); status != "" {
					_ = c.sendJSONPriority(protocol.STTStatus(status))
				}
			}
		case jobsCh() <- nextJob():
			pending = pending[1:]
		case res := <-attributed:
			record(res)
		case out := <-analysisCh:
			analyzing = false
			if out.Intervention != nil {
				iv := c.state.AppendIntervention(*out.Intervention)
				c.publishState()
				_ = c.sendJSON(protocol.Intervention(iv))
			} else {
				c.logger.Debug("analysis skipped", "reason", string(out.Skip), "failures", len(out.Failures))
			}
			if rerun {
				rerun = false
				startAnalysis()
			}
		}
	}
}

// shutdown disconnects the transcriber, attributes transcripts that were
// already in flight, then publishes and persists the final state.
func (c *Coordinator) shutdown(jobs chan attributionJob, attributed <-chan attributionResult, pending []attributionJob, record func(attributionResult), stopWork context.CancelFunc, endMeeting bool) {
	c.cancel()

	disconnectCtx, cancel := context.WithTimeout(context.Background(), c.cfg.DisconnectTimeout)
	c.transcriber.Disconnect(disconnectCtx)
	cancel()

	roster := c.state.Snapshot().Participants
drain:
	for {
		select {
		case ev := <-c.sttEvents:
			if t, ok := ev.(stt.TranscriptEvent); ok {
				pending = append(pending, attributionJob{event: t, roster: roster})
			}
		default:
			break drain
		}
	}

	timer := time.NewTimer(c.cfg.DrainTimeout)
	defer timer.Stop()
	go func() {
		defer close(jobs)
		for _, job := range pending {
			select {
			case jobs <- job:
			case <-timer.C:
				stopWork()
				return
			}
		}
	}()
	for res := range attributed {
		record(res)
	}
	stopWork()

	if endMeeting {
		c.state.End(c.now())
	}
	snap := c.state.Snapshot()
	c.publish(snap)

	if c.recorder == nil {
		return
	}
	ctx, cancelSave := context.WithTimeout(context.Background(), c.cfg.DrainTimeout)
	defer cancelSave()
	if err := c.recorder.SaveTranscript(ctx, snap); err != nil {
		c.logger.Error("save transcript failed", "error", err)
	}
	if err := c.recorder.SaveInterventions(ctx, snap); err != nil {
		c.logger.Error("save interventions failed", "error", err)
	}
	c.logger.Info("session ended",
		"entries", len(snap.Transcript),
		"interventions", len(snap.Interventions),
		"status", string(snap.Status),
	)
}

func (c *Coordinator) attributionWorker(ctx context.Context, jobs <-chan attributionJob, out chan<- attributionResult) {
	defer close(out)
	for job := range jobs {
		res := attributionResult{event: job.event, attribution: c.attribute(ctx, job)}
		select {
		case out <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) attribute(ctx context.Context, job attributionJob) speaker.Attribution {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttributionTimeout)
	defer cancel()
	a, err := c.attributor.Attribute(ctx, job.event.Text, job.roster, job.recent)
	if err != nil {
		c.logger.Warn("speaker attribution failed", "error", err)
		return speaker.Attribution{Speaker: meeting.UnknownSpeaker}
	}
	return a
}

// observe runs on the transcriber's dispatch goroutine.
func (c *Coordinator) observe(ev stt.Event) {
	select {
	case c.sttEvents <- ev:
	case <-c.ctx.Done():
	}
}

func sttStatus(s stt.ConnectionState) string {
	switch s {
	case stt.Connecting:
		return protocol.STTConnecting
	case stt.Connected:
		return protocol.STTConnected
	case stt.Reconnecting:
		return protocol.STTReconnecting
	case stt.Failed:
		return protocol.STTFailed
	case stt.Disconnected:
		return protocol.STTDisconnected
	default:
		return ""
	}
}

func (c *Coordinator) publishState() {
	c.publish(c.state.Snapshot())
}

func (c *Coordinator) sendError(code, message string, recoverable bool) error {
	return c.sendJSONPriority(protocol.Error(code, message, recoverable))
}

func (c *Coordinator) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.outboundNormal <- payload:
		return nil
	default:
		c.logger.Warn("client outbound queue full; dropping event")
		return errBackpressure
	}
}

func (c *Coordinator) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.outboundPriority <- payload:
		return nil
	default:
		return errBackpressure
	}
}

func (c *Coordinator) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-c.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-c.ctx.Done():
			return
		}
	}
}

// Cancel ends the session. It is safe to call from any goroutine.
func (c *Coordinator) Cancel() {
	if c == nil || c.cancel == nil {
		return
	}
	c.cancel()
}

// Notify sends an error event to the client from outside the session.
func (c *Coordinator) Notify(code, message string) error {
	if c == nil {
		return nil
	}
	return c.sendError(code, message, true)
}
