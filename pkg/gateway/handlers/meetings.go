package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
	"github.com/meetingmod/moderator/pkg/gateway/config"
	"github.com/meetingmod/moderator/pkg/gateway/meetings"
	"github.com/meetingmod/moderator/pkg/storage"
)

// PrincipleResolver turns principle IDs into the principles a meeting is
// held to.
type PrincipleResolver interface {
	Resolve(ids []string) ([]meeting.Principle, error)
}

// SessionCanceler stops the live session of a meeting, if any.
type SessionCanceler interface {
	Cancel(meetingID string) bool
}

// MeetingsHandler serves /api/v1/meetings.
type MeetingsHandler struct {
	Config     config.Config
	Registry   *meetings.Registry
	Principles PrincipleResolver
	Recorder   storage.Recorder
	Loader     storage.Loader
	Sessions   SessionCanceler
	// Files lists the report paths returned by save.
	Files      func(id string) []string
	Logger     *slog.Logger
	Now        func() time.Time
	EndTimeout time.Duration
}

type participantInput struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type createMeetingRequest struct {
	Title        string             `json:"title"`
	Agenda       string             `json:"agenda"`
	Participants []participantInput `json:"participants"`
	PrincipleIDs []string           `json:"principleIds"`
}

type transcriptInput struct {
	ID         string  `json:"id"`
	Timestamp  string  `json:"timestamp"`
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Duration   float64 `json:"duration,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

type interventionInput struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	Message           string `json:"message"`
	Timestamp         string `json:"timestamp"`
	ViolatedPrinciple string `json:"violatedPrinciple,omitempty"`
	ParkingLotItem    string `json:"parkingLotItem,omitempty"`
}

// saveMeetingRequest is a client-held record of a meeting, sent when the
// browser ran the meeting without a server session.
type saveMeetingRequest struct {
	Title         string              `json:"title"`
	Agenda        string              `json:"agenda"`
	Participants  []participantInput  `json:"participants"`
	Transcript    []transcriptInput   `json:"transcript"`
	Interventions []interventionInput `json:"interventions"`
	// SpeakerStats is accepted for compatibility and recomputed from the
	// transcript.
	SpeakerStats map[string]any `json:"speakerStats,omitempty"`
}

type principleRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type participantResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Role          string  `json:"role"`
	SpeakingTime  float64 `json:"speakingTime"`
	SpeakingCount int     `json:"speakingCount"`
}

type transcriptResponse struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Duration   float64   `json:"duration"`
	Confidence float64   `json:"confidence"`
}

type interventionResponse struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Type              string    `json:"type"`
	Message           string    `json:"message"`
	TriggerContext    string    `json:"triggerContext"`
	ViolatedPrinciple *string   `json:"violatedPrinciple"`
	ParkingLotItem    *string   `json:"parkingLotItem"`
	SuggestedSpeaker  *string   `json:"suggestedSpeaker"`
}

type meetingResponse struct {
	ID            string                         `json:"id"`
	Title         string                         `json:"title"`
	Status        meeting.Status                 `json:"status"`
	Agenda        string                         `json:"agenda"`
	Principles    []principleRef                 `json:"principles"`
	Participants  []participantResponse          `json:"participants"`
	Transcript    []transcriptResponse           `json:"transcript"`
	Interventions []interventionResponse         `json:"interventions"`
	ParkingLot    []string                       `json:"parkingLot"`
	SpeakerStats  map[string]meeting.SpeakerStat `json:"speakerStats"`
	CreatedAt     time.Time                      `json:"createdAt"`
	StartedAt     *time.Time                     `json:"startedAt"`
	EndedAt       *time.Time                     `json:"endedAt"`
}

type meetingSummary struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Status       meeting.Status `json:"status"`
	Participants int            `json:"participants"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    *time.Time     `json:"startedAt"`
	EndedAt      *time.Time     `json:"endedAt"`
	Live         bool           `json:"live"`
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func toMeetingResponse(snap meeting.Snapshot) meetingResponse {
	out := meetingResponse{
		ID:            snap.ID,
		Title:         snap.Title,
		Status:        snap.Status,
		Agenda:        snap.Agenda,
		Principles:    make([]principleRef, 0, len(snap.Principles)),
		Participants:  make([]participantResponse, 0, len(snap.Participants)),
		Transcript:    make([]transcriptResponse, 0, len(snap.Transcript)),
		Interventions: make([]interventionResponse, 0, len(snap.Interventions)),
		ParkingLot:    append([]string{}, snap.ParkingLot...),
		SpeakerStats:  snap.SpeakerStats(),
		CreatedAt:     snap.CreatedAt,
		StartedAt:     snap.StartedAt,
		EndedAt:       snap.EndedAt,
	}
	for _, p := range snap.Principles {
		out.Principles = append(out.Principles, principleRef{ID: p.ID, Name: p.Name})
	}
	for _, p := range snap.Participants {
		out.Participants = append(out.Participants, participantResponse(p))
	}
	for _, e := range snap.Transcript {
		out.Transcript = append(out.Transcript, transcriptResponse(e))
	}
	for _, iv := range snap.Interventions {
		out.Interventions = append(out.Interventions, interventionResponse{
			ID:                iv.ID,
			Timestamp:         iv.Timestamp,
			Type:              string(iv.Kind),
			Message:           iv.Message,
			TriggerContext:    iv.TriggerContext,
			ViolatedPrinciple: optional(iv.ViolatedPrinciple),
			ParkingLotItem:    optional(iv.ParkingLotItem),
			SuggestedSpeaker:  optional(iv.SuggestedSpeaker),
		})
	}
	return out
}

func (h MeetingsHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h MeetingsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func toParticipants(in []participantInput) ([]meeting.Participant, error) {
	out := make([]meeting.Participant, 0, len(in))
	for i, p := range in {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, core.NewInvalidRequestErrorWithParam("participant name is required", fmt.Sprintf("participants[%d].name", i))
		}
		out = append(out, meeting.Participant{ID: strings.TrimSpace(p.ID), Name: name, Role: strings.TrimSpace(p.Role)})
	}
	if i, dup := meeting.DuplicateName(out); dup {
		return nil, core.NewInvalidRequestErrorWithParam(
			fmt.Sprintf("participant %q is listed more than once", out[i].Name),
			fmt.Sprintf("participants[%d].name", i))
	}
	return out, nil
}

// lookup finds a meeting in the registry, falling back to the store for
// meetings created before the last restart.
func (h MeetingsHandler) lookup(ctx context.Context, id string) (meeting.Snapshot, error) {
	if snap, ok := h.Registry.Get(id); ok {
		return snap, nil
	}
	if h.Loader == nil {
		return meeting.Snapshot{}, core.NewNotFoundError("Meeting not found")
	}
	snap, err := h.Loader.Load(ctx, id)
	if err != nil {
		if core.IsType(err, core.ErrNotFound) {
			return meeting.Snapshot{}, core.NewNotFoundError("Meeting not found")
		}
		return meeting.Snapshot{}, err
	}
	if err := h.Registry.Put(snap); err != nil {
		h.logger().Warn("cache stored meeting", "meeting_id", id, "error", err)
	}
	return snap, nil
}

func (h MeetingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMeetingRequest
	if err := requireJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("title is required", "title"))
		return
	}
	participants, err := toParticipants(req.Participants)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var principles []meeting.Principle
	if h.Principles != nil && len(req.PrincipleIDs) > 0 {
		principles, err = h.Principles.Resolve(req.PrincipleIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	snap, err := h.Registry.Create(meeting.Meeting{
		Title:        title,
		Agenda:       req.Agenda,
		Participants: participants,
		Principles:   principles,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Recorder != nil {
		if err := h.Recorder.SavePreparation(r.Context(), snap); err != nil {
			h.logger().Error("save preparation failed", "meeting_id", snap.ID, "error", err)
			writeError(w, r, err)
			return
		}
	}
	h.logger().Info("meeting created", "meeting_id", snap.ID, "participants", len(snap.Participants), "principles", len(snap.Principles))
	writeJSON(w, http.StatusOK, map[string]any{"id": snap.ID, "status": snap.Status})
}

func (h MeetingsHandler) List(w http.ResponseWriter, r *http.Request) {
	out := make([]meetingSummary, 0)
	seen := make(map[string]struct{})
	for _, snap := range h.Registry.List() {
		seen[snap.ID] = struct{}{}
		out = append(out, summarize(snap.Meeting, h.Registry.Live(snap.ID)))
	}
	if h.Loader != nil {
		stored, err := h.Loader.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, m := range stored {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			out = append(out, summarize(m, false))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"meetings": out})
}

func summarize(m meeting.Meeting, live bool) meetingSummary {
	return meetingSummary{
		ID:           m.ID,
		Title:        m.Title,
		Status:       m.Status,
		Participants: len(m.Participants),
		CreatedAt:    m.CreatedAt,
		StartedAt:    m.StartedAt,
		EndedAt:      m.EndedAt,
		Live:         live,
	}
}

func (h MeetingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingResponse(snap))
}

func statusError(s meeting.Status) error {
	switch s {
	case meeting.StatusInProgress:
		return core.NewInvalidRequestError("Meeting is already in progress")
	case meeting.StatusCompleted:
		return core.NewInvalidRequestError("Meeting has already completed")
	}
	return nil
}

func (h MeetingsHandler) Start(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := h.lookup(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := statusError(snap.Status); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err = h.Registry.Update(id, func(st *meeting.State) error {
		if err := statusError(st.Status()); err != nil {
			return err
		}
		return st.Start(h.now())
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.logger().Info("meeting started", "meeting_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": snap.Status, "startedAt": snap.StartedAt})
}

// End stops any live session, completes the meeting and persists its
// transcript and interventions.
func (h MeetingsHandler) End(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.lookup(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if h.Sessions != nil && h.Sessions.Cancel(id) {
		timeout := h.EndTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		err := h.Registry.WaitReleased(ctx, id)
		cancel()
		if err != nil {
			writeError(w, r, core.NewConflictError("live session did not stop in time"))
			return
		}
	}
	snap, err := h.Registry.Update(id, func(st *meeting.State) error {
		st.End(h.now())
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Recorder != nil {
		err := errors.Join(
			h.Recorder.SaveTranscript(r.Context(), snap),
			h.Recorder.SaveInterventions(r.Context(), snap),
		)
		if err != nil {
			h.logger().Error("save meeting failed", "meeting_id", id, "error", err)
			writeError(w, r, err)
			return
		}
	}
	h.logger().Info("meeting ended", "meeting_id", id, "entries", len(snap.Transcript), "interventions", len(snap.Interventions))
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": snap.Status})
}

// Save persists a meeting's preparation, transcript and interventions. With a
// body, the client-held record replaces the server copy and is saved as a
// completed meeting.
func (h MeetingsHandler) Save(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req saveMeetingRequest
	hasBody, err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var snap meeting.Snapshot
	if hasBody {
		snap, err = h.fromRecord(r.Context(), id, req)
		if err == nil {
			err = h.Registry.Put(snap)
		}
	} else {
		snap, err = h.lookup(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := storage.SaveAll(r.Context(), h.Recorder, snap); err != nil {
		h.logger().Error("save meeting failed", "meeting_id", id, "error", err)
		writeError(w, r, err)
		return
	}
	var files []string
	if h.Files != nil {
		files = h.Files(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "saved", "files": files})
}

func (h MeetingsHandler) fromRecord(ctx context.Context, id string, req saveMeetingRequest) (meeting.Snapshot, error) {
	participants, err := toParticipants(req.Participants)
	if err != nil {
		return meeting.Snapshot{}, err
	}
	now := h.now().UTC()
	m := meeting.Meeting{
		ID:           id,
		Title:        req.Title,
		Agenda:       req.Agenda,
		Participants: participants,
		Status:       meeting.StatusCompleted,
		CreatedAt:    now,
		StartedAt:    &now,
		EndedAt:      &now,
	}
	if prev, err := h.lookup(ctx, id); err == nil {
		m.CreatedAt = prev.CreatedAt
		m.Principles = prev.Principles
		if prev.StartedAt != nil {
			m.StartedAt = prev.StartedAt
		}
	}

	snap := meeting.Snapshot{Meeting: m}
	for _, t := range req.Transcript {
		snap.Transcript = append(snap.Transcript, meeting.TranscriptEntry{
			ID:         t.ID,
			Timestamp:  parseTimestamp(t.Timestamp, now),
			Speaker:    t.Speaker,
			Text:       t.Text,
			Duration:   t.Duration,
			Confidence: t.Confidence,
		})
	}
	for i, iv := range req.Interventions {
		kind := meeting.InterventionKind(strings.ToUpper(strings.TrimSpace(iv.Type)))
		if !kind.Valid() {
			return meeting.Snapshot{}, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("unknown intervention type %q", iv.Type), fmt.Sprintf("interventions[%d].type", i))
		}
		if iv.ID == "" {
			iv.ID = meeting.NewInterventionID()
		}
		snap.Interventions = append(snap.Interventions, meeting.Intervention{
			ID:                iv.ID,
			Timestamp:         parseTimestamp(iv.Timestamp, now),
			Kind:              kind,
			Message:           iv.Message,
			ViolatedPrinciple: iv.ViolatedPrinciple,
			ParkingLotItem:    iv.ParkingLotItem,
		})
	}
	return meeting.Restore(snap).Snapshot(), nil
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO form browsers and
// Python emit.
func parseTimestamp(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
