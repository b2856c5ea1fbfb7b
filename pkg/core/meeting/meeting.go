// Package meeting holds the meeting data model: metadata, the append-only
// transcript and intervention logs, participant statistics, and the
// single-owner State that mutates them.
package meeting

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle phase of a meeting.
type Status string

const (
	StatusPreparing  Status = "preparing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// InterventionKind identifies why a moderator interjection was raised.
type InterventionKind string

const (
	KindNone                   InterventionKind = ""
	KindTopicDrift             InterventionKind = "TOPIC_DRIFT"
	KindPrincipleViolation     InterventionKind = "PRINCIPLE_VIOLATION"
	KindParticipationImbalance InterventionKind = "PARTICIPATION_IMBALANCE"
	KindDecisionStyle          InterventionKind = "DECISION_STYLE"
)

// Priority ranks kinds when several judges flag the same window. Higher wins.
func (k InterventionKind) Priority() int {
	switch k {
	case KindPrincipleViolation:
		return 3
	case KindTopicDrift:
		return 2
	case KindParticipationImbalance:
		return 1
	default:
		return 0
	}
}

// Valid reports whether k is a known, non-empty kind.
func (k InterventionKind) Valid() bool {
	switch k {
	case KindTopicDrift, KindPrincipleViolation, KindParticipationImbalance, KindDecisionStyle:
		return true
	}
	return false
}

// DefaultRole is assigned to speakers registered implicitly by attribution.
const DefaultRole = "participant"

// UnknownSpeaker labels text that could not be attributed.
const UnknownSpeaker = "Unknown"

type Principle struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

type Participant struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Role          string  `json:"role"`
	SpeakingTime  float64 `json:"speaking_time"`
	SpeakingCount int     `json:"speaking_count"`
}

// TranscriptEntry is one attributed utterance. Duration is in seconds.
type TranscriptEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Duration   float64   `json:"duration"`
	Confidence float64   `json:"confidence"`
}

type Intervention struct {
	ID                string           `json:"id"`
	Timestamp         time.Time        `json:"timestamp"`
	Kind              InterventionKind `json:"type"`
	Message           string           `json:"message"`
	TriggerContext    string           `json:"trigger_context,omitempty"`
	ViolatedPrinciple string           `json:"violated_principle,omitempty"`
	ParkingLotItem    string           `json:"parking_lot_item,omitempty"`
	SuggestedSpeaker  string           `json:"suggested_speaker,omitempty"`
}

// Meeting is the preparation-time description of a meeting.
type Meeting struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Agenda       string        `json:"agenda"`
	Principles   []Principle   `json:"principles"`
	Participants []Participant `json:"participants"`
	Status       Status        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
}

// NewTranscriptID returns an identifier of the form tr_xxxxxxxx.
func NewTranscriptID() string { return "tr_" + shortHex(8) }

// NewInterventionID returns an identifier of the form int_xxxxxxxx.
func NewInterventionID() string { return "int_" + shortHex(8) }

// NewParticipantID returns an identifier for an implicitly registered speaker.
func NewParticipantID() string { return "p_" + shortHex(8) }

func shortHex(n int) string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
