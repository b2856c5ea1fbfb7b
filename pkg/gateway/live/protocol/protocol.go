// Package protocol defines the JSON frames exchanged with a meeting client on
// /ws/meetings/{id}.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/meetingmod/moderator/pkg/core/meeting"
)

// Outbound event types.
const (
	EventTranscript   = "transcript"
	EventSpeakerStats = "speaker_stats"
	EventIntervention = "intervention"
	EventSTTStatus    = "stt_status"
	EventError        = "error"
	EventMeetingState = "meeting_state"
)

// stt_status values.
const (
	STTConnecting   = "connecting"
	STTConnected    = "connected"
	STTReconnecting = "reconnecting"
	STTFailed       = "failed"
	STTDisconnected = "disconnected"
)

// Session-level error codes, alongside the transcription codes from stt.
const (
	CodeBadRequest  = "bad_request"
	CodeRateLimited = "rate_limited"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: CodeBadRequest, Message: message, Param: param}
}

// ClientAudio carries base64 PCM16 audio.
type ClientAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ClientCommit asks the transcription provider to close the current buffer.
type ClientCommit struct {
	Type string `json:"type"`
}

// ClientClear discards buffered, uncommitted audio.
type ClientClear struct {
	Type string `json:"type"`
}

// ClientEnd ends the session from the client side.
type ClientEnd struct {
	Type string `json:"type"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		return msg, nil
	case "commit":
		return ClientCommit{Type: typ}, nil
	case "clear":
		return ClientClear{Type: typ}, nil
	case "end":
		return ClientEnd{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ServerEvent is the outbound envelope: {"type": ..., "data": ...}.
type ServerEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// TranscriptData mirrors meeting.TranscriptEntry on the wire.
type TranscriptData struct {
	ID         string  `json:"id"`
	Timestamp  string  `json:"timestamp"`
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Duration   float64 `json:"duration"`
	Confidence float64 `json:"confidence"`
}

type SpeakerStatsData struct {
	Stats map[string]meeting.SpeakerStat `json:"stats"`
}

// InterventionData uses camelCase keys, as the browser client expects.
type InterventionData struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	Message           string `json:"message"`
	Timestamp         string `json:"timestamp"`
	TriggerContext    string `json:"triggerContext,omitempty"`
	ViolatedPrinciple string `json:"violatedPrinciple,omitempty"`
	ParkingLotItem    string `json:"parkingLotItem,omitempty"`
	SuggestedSpeaker  string `json:"suggestedSpeaker,omitempty"`
}

type STTStatusData struct {
	Status string `json:"status"`
}

type ErrorData struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func Transcript(e meeting.TranscriptEntry) ServerEvent {
	return ServerEvent{Type: EventTranscript, Data: TranscriptData{
		ID:         e.ID,
		Timestamp:  formatTime(e.Timestamp),
		Speaker:    e.Speaker,
		Text:       e.Text,
		Duration:   e.Duration,
		Confidence: e.Confidence,
	}}
}

func SpeakerStats(snap meeting.Snapshot) ServerEvent {
	return ServerEvent{Type: EventSpeakerStats, Data: SpeakerStatsData{Stats: snap.SpeakerStats()}}
}

func Intervention(iv meeting.Intervention) ServerEvent {
	return ServerEvent{Type: EventIntervention, Data: InterventionData{
		ID:                iv.ID,
		Type:              string(iv.Kind),
		Message:           iv.Message,
		Timestamp:         formatTime(iv.Timestamp),
		TriggerContext:    iv.TriggerContext,
		ViolatedPrinciple: iv.ViolatedPrinciple,
		ParkingLotItem:    iv.ParkingLotItem,
		SuggestedSpeaker:  iv.SuggestedSpeaker,
	}}
}

func STTStatus(status string) ServerEvent {
	return ServerEvent{Type: EventSTTStatus, Data: STTStatusData{Status: status}}
}

func Error(code, message string, recoverable bool) ServerEvent {
	return ServerEvent{Type: EventError, Data: ErrorData{Code: code, Message: message, Recoverable: recoverable}}
}

func MeetingState(snap meeting.Snapshot) ServerEvent {
	return ServerEvent{Type: EventMeetingState, Data: snap}
}
