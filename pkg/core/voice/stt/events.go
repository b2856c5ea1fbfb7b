package stt

import (
	"time"

	"github.com/meetingmod/moderator/pkg/core"
)

// Error codes carried on ErrorEvent.Err.Code.
const (
	CodeTranscription = "STT_ERROR"
	CodeConnection    = "STT_CONNECTION_ERROR"
	CodeConfiguration = "STT_CONFIGURATION_ERROR"
)

// Event is a typed notification from a Manager. Observers switch on the
// concrete type.
type Event interface {
	sttEventType() string
}

// Observer receives events in the order they were produced. It runs on a
// dedicated dispatch goroutine, never on the receive loop.
type Observer func(Event)

// TranscriptEvent carries a completed, non-blank transcription.
type TranscriptEvent struct {
	ItemID     string
	Text       string
	ReceivedAt time.Time
}

// SpeechStartedEvent marks the start of detected speech. AudioStartMS is the
// offset into the session's input audio.
type SpeechStartedEvent struct {
	ItemID       string
	AudioStartMS int
}

// SpeechEndEvent marks the end of detected speech.
type SpeechEndEvent struct {
	ItemID     string
	AudioEndMS int
}

// ErrorEvent reports a provider or transport error. It does not by itself
// imply the connection is gone; StateChangeEvent says that.
type ErrorEvent struct {
	Err *core.Error
}

// StateChangeEvent is emitted exactly once per state transition.
type StateChangeEvent struct {
	From ConnectionState
	To   ConnectionState
}

func (TranscriptEvent) sttEventType() string    { return "transcript" }
func (SpeechStartedEvent) sttEventType() string { return "speech_started" }
func (SpeechEndEvent) sttEventType() string     { return "speech_end" }
func (ErrorEvent) sttEventType() string         { return "error" }
func (StateChangeEvent) sttEventType() string   { return "state_change" }
