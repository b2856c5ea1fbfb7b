// Package upstream builds the remote collaborators of a meeting session from
// configuration: the reasoning backend, the judges, the speaker attributor,
// and the transcription manager.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/meetingmod/moderator/pkg/core/judge"
	"github.com/meetingmod/moderator/pkg/core/orchestrator"
	"github.com/meetingmod/moderator/pkg/core/reasoning"
	"github.com/meetingmod/moderator/pkg/core/reasoning/gemini"
	"github.com/meetingmod/moderator/pkg/core/reasoning/openai"
	"github.com/meetingmod/moderator/pkg/core/speaker"
	"github.com/meetingmod/moderator/pkg/core/voice/stt"
	"github.com/meetingmod/moderator/pkg/gateway/config"
)

type Factory struct {
	Config     config.Config
	HTTPClient *http.Client
	Logger     *slog.Logger

	reasoning reasoning.Provider
}

// New resolves the reasoning backend once. A missing API key leaves the
// factory without one: LLM judges are then skipped and reasoned attribution
// falls back to the static attributor, which readiness reports.
func New(ctx context.Context, cfg config.Config, client *http.Client, logger *slog.Logger) (*Factory, error) {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{Config: cfg, HTTPClient: client, Logger: logger}

	switch cfg.ReasoningProvider {
	case config.ReasoningNone:
	case config.ReasoningOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			logger.Warn("reasoning provider disabled", "provider", cfg.ReasoningProvider, "reason", "missing api key")
			break
		}
		opts := []openai.Option{openai.WithHTTPClient(client)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		if cfg.ReasoningModel != "" {
			opts = append(opts, openai.WithModel(cfg.ReasoningModel))
		}
		f.reasoning = openai.New(cfg.OpenAIAPIKey, opts...)
	case config.ReasoningGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			logger.Warn("reasoning provider disabled", "provider", cfg.ReasoningProvider, "reason", "missing api key")
			break
		}
		opts := []gemini.Option{gemini.WithHTTPClient(client)}
		if cfg.ReasoningModel != "" {
			opts = append(opts, gemini.WithModel(cfg.ReasoningModel))
		}
		p, err := gemini.New(ctx, cfg.GeminiAPIKey, opts...)
		if err != nil {
			return nil, err
		}
		f.reasoning = p
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.ReasoningProvider)
	}
	return f, nil
}

// Reasoning returns the shared backend, or nil when none is configured.
func (f *Factory) Reasoning() reasoning.Provider {
	return f.reasoning
}

// Judges builds the configured judges in configuration order. LLM-backed
// judges are left out when there is no reasoning backend.
func (f *Factory) Judges() []judge.Judge {
	llm := judge.LLMConfig{
		Model:     f.Config.ReasoningModel,
		Threshold: f.Config.ConfidenceThreshold,
	}
	out := make([]judge.Judge, 0, len(f.Config.Judges))
	for _, name := range f.Config.Judges {
		switch name {
		case "participation":
			out = append(out, &judge.ParticipationJudge{MinUtterances: f.Config.ParticipationMinUtterances})
		case "topic", "principle", "decision":
			if f.reasoning == nil {
				continue
			}
			switch name {
			case "topic":
				out = append(out, &judge.TopicJudge{Provider: f.reasoning, Config: llm})
			case "principle":
				out = append(out, &judge.PrincipleJudge{Provider: f.reasoning, Config: llm})
			case "decision":
				out = append(out, &judge.DecisionJudge{Provider: f.reasoning, Config: llm})
			}
		}
	}
	return out
}

// Orchestrator returns a fresh orchestrator. Each meeting gets its own, so
// the intervention interval is tracked per meeting.
func (f *Factory) Orchestrator(logger *slog.Logger) *orchestrator.Orchestrator {
	if logger == nil {
		logger = f.Logger
	}
	return orchestrator.New(orchestrator.Config{
		MinInterval:  f.Config.MinInterventionInterval,
		JudgeTimeout: f.Config.JudgeTimeout,
		Logger:       logger,
	}, f.Judges()...)
}

// Attributor returns the configured speaker attributor. Reasoned attribution
// without a backend degrades to the static one.
func (f *Factory) Attributor() speaker.Attributor {
	mode := f.Config.SpeakerAttribution
	if mode == speaker.ModeReasoned && f.reasoning == nil {
		mode = speaker.ModeStatic
	}
	a, err := speaker.New(mode, f.reasoning, f.Config.ReasoningModel)
	if err != nil {
		f.Logger.Warn("speaker attribution fallback", "mode", mode, "error", err)
		return speaker.Static{}
	}
	return a
}

// Transcriber returns a new realtime transcription manager for one session.
func (f *Factory) Transcriber(logger *slog.Logger) *stt.Manager {
	if logger == nil {
		logger = f.Logger
	}
	return stt.New(f.STTConfig(), stt.WithLogger(logger))
}

func (f *Factory) STTConfig() stt.Config {
	c := f.Config
	return stt.Config{
		APIKey:               c.OpenAIAPIKey,
		URL:                  c.STTURL,
		TranscriptionModel:   c.STTTranscriptionModel,
		Language:             c.STTLanguage,
		VADThreshold:         c.STTVADThreshold,
		PrefixPaddingMS:      c.STTPrefixPaddingMS,
		SilenceDurationMS:    c.STTSilenceDurationMS,
		HandshakeTimeout:     c.STTConnectTimeout,
		PingInterval:         c.STTPingInterval,
		MaxReconnectAttempts: c.STTMaxReconnectAttempts,
		ReconnectBaseDelay:   c.STTReconnectBaseDelay,
		StableAfter:          c.STTStableAfter,
		DisconnectTimeout:    c.STTDisconnectTimeout,
	}
}
