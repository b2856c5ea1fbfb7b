package stt

// Wire format of the OpenAI Realtime API, restricted to the input-audio
// transcription surface.

const (
	evSessionCreated            = "session.created"
	evSessionUpdated            = "session.updated"
	evTranscriptionSessionReady = "transcription_session.updated"
	evTranscriptionCompleted    = "conversation.item.input_audio_transcription.completed"
	evTranscriptionFailed       = "conversation.item.input_audio_transcription.failed"
	evSpeechStarted             = "input_audio_buffer.speech_started"
	evSpeechStopped             = "input_audio_buffer.speech_stopped"
	evBufferCommitted           = "input_audio_buffer.committed"
	evError                     = "error"

	msgSessionUpdate = "session.update"
	msgAudioAppend   = "input_audio_buffer.append"
	msgAudioCommit   = "input_audio_buffer.commit"
	msgAudioClear    = "input_audio_buffer.clear"
)

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string            `json:"modalities"`
	InputAudioFormat        string              `json:"input_audio_format"`
	InputAudioTranscription transcriptionConfig `json:"input_audio_transcription"`
	TurnDetection           turnDetection       `json:"turn_detection"`
}

type transcriptionConfig struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type controlMessage struct {
	Type string `json:"type"`
}

type serverEvent struct {
	Type         string       `json:"type"`
	EventID      string       `json:"event_id,omitempty"`
	ItemID       string       `json:"item_id,omitempty"`
	Transcript   string       `json:"transcript,omitempty"`
	AudioStartMS int          `json:"audio_start_ms,omitempty"`
	AudioEndMS   int          `json:"audio_end_ms,omitempty"`
	Error        *serverError `json:"error,omitempty"`
}

type serverError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

func (e *serverError) text() string {
	if e == nil {
		return "unknown error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "unknown error"
}

func (c Config) sessionUpdate() sessionUpdate {
	return sessionUpdate{
		Type: msgSessionUpdate,
		Session: sessionConfig{
			Modalities:       []string{"text", "audio"},
			InputAudioFormat: "pcm16",
			InputAudioTranscription: transcriptionConfig{
				Model:    c.TranscriptionModel,
				Language: c.Language,
			},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         c.VADThreshold,
				PrefixPaddingMS:   c.PrefixPaddingMS,
				SilenceDurationMS: c.SilenceDurationMS,
			},
		},
	}
}
