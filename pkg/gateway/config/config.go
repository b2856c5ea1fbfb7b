package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const (
	ReasoningOpenAI = "openai"
	ReasoningGemini = "gemini"
	ReasoningNone   = "none"
)

// Judge names accepted by MODERATOR_JUDGES.
var KnownJudges = []string{"topic", "principle", "participation", "decision"}

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// Only enable behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	LogLevel slog.Level

	// Transcription (OpenAI Realtime).
	OpenAIAPIKey            string
	STTURL                  string
	STTTranscriptionModel   string
	STTLanguage             string
	STTVADThreshold         float64
	STTPrefixPaddingMS      int
	STTSilenceDurationMS    int
	STTConnectTimeout       time.Duration
	STTMaxReconnectAttempts int
	STTReconnectBaseDelay   time.Duration
	STTStableAfter          time.Duration
	STTPingInterval         time.Duration
	STTDisconnectTimeout    time.Duration

	// Orchestration.
	MinInterventionInterval    time.Duration
	AnalysisWindow             int
	JudgeTimeout               time.Duration
	Judges                     []string
	ConfidenceThreshold        float64
	ParticipationMinUtterances int

	// Reasoning backend used by the LLM judges and speaker attribution.
	ReasoningProvider string
	ReasoningModel    string
	OpenAIBaseURL     string
	GeminiAPIKey      string

	SpeakerAttribution string

	// Storage.
	DatabaseURL   string
	ReportsDir    string
	PrinciplesDir string

	// Meeting websocket (/ws/meetings/{id}).
	WSMaxJSONBytes            int64
	WSMaxAudioFrameBytes      int
	WSMaxAudioFPS             int
	WSMaxAudioBPS             int64
	WSBurstSeconds            int
	WSWriteTimeout            time.Duration
	WSPingInterval            time.Duration
	WSReadTimeout             time.Duration
	WSMaxSessionsPerPrincipal int

	// In-memory REST limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("MODERATOR_ADDR", ":8000"),
		AuthMode:                   AuthMode(envOr("MODERATOR_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                    make(map[string]struct{}),
		TrustProxyHeaders:          envBoolOr("MODERATOR_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:               envInt64Or("MODERATOR_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:         make(map[string]struct{}),
		OpenAIAPIKey:               envOr("OPENAI_API_KEY", ""),
		STTURL:                     envOr("MODERATOR_STT_URL", ""),
		STTTranscriptionModel:      envOr("MODERATOR_STT_TRANSCRIPTION_MODEL", "whisper-1"),
		STTLanguage:                envOr("MODERATOR_STT_LANGUAGE", ""),
		STTVADThreshold:            envFloat64Or("MODERATOR_STT_VAD_THRESHOLD", 0.5),
		STTPrefixPaddingMS:         envIntOr("MODERATOR_STT_PREFIX_PADDING_MS", 300),
		STTSilenceDurationMS:       envIntOr("MODERATOR_STT_SILENCE_DURATION_MS", 1500),
		STTConnectTimeout:          envDurationOr("MODERATOR_STT_CONNECT_TIMEOUT", 10*time.Second),
		STTMaxReconnectAttempts:    envIntOr("MODERATOR_STT_MAX_RECONNECT_ATTEMPTS", 3),
		STTReconnectBaseDelay:      envDurationOr("MODERATOR_STT_RECONNECT_BASE_DELAY", time.Second),
		STTStableAfter:             envDurationOr("MODERATOR_STT_STABLE_AFTER", 30*time.Second),
		STTPingInterval:            envDurationOr("MODERATOR_STT_PING_INTERVAL", 20*time.Second),
		STTDisconnectTimeout:       envDurationOr("MODERATOR_STT_DISCONNECT_TIMEOUT", 5*time.Second),
		MinInterventionInterval:    envDurationOr("MODERATOR_MIN_INTERVENTION_INTERVAL", 15*time.Second),
		AnalysisWindow:             envIntOr("MODERATOR_ANALYSIS_WINDOW", 10),
		JudgeTimeout:               envDurationOr("MODERATOR_JUDGE_TIMEOUT", 20*time.Second),
		ConfidenceThreshold:        envFloat64Or("MODERATOR_CONFIDENCE_THRESHOLD", 0.7),
		ParticipationMinUtterances: envIntOr("MODERATOR_PARTICIPATION_MIN_UTTERANCES", 5),
		ReasoningProvider:          strings.ToLower(envOr("MODERATOR_REASONING_PROVIDER", ReasoningOpenAI)),
		ReasoningModel:             envOr("MODERATOR_REASONING_MODEL", ""),
		OpenAIBaseURL:              envOr("MODERATOR_OPENAI_BASE_URL", ""),
		GeminiAPIKey:               envOr("GEMINI_API_KEY", ""),
		SpeakerAttribution:         strings.ToLower(envOr("MODERATOR_SPEAKER_ATTRIBUTION", "static")),
		DatabaseURL:                envOr("MODERATOR_DATABASE_URL", "moderator.db"),
		ReportsDir:                 envOr("MODERATOR_REPORTS_DIR", "meetings"),
		PrinciplesDir:              envOr("MODERATOR_PRINCIPLES_DIR", "principles"),
		WSMaxJSONBytes:             envInt64Or("MODERATOR_WS_MAX_JSON_BYTES", 512*1024),
		WSMaxAudioFrameBytes:       envIntOr("MODERATOR_WS_MAX_AUDIO_FRAME_BYTES", 256*1024),
		WSMaxAudioFPS:              envIntOr("MODERATOR_WS_MAX_AUDIO_FPS", 50),
		WSMaxAudioBPS:              envInt64Or("MODERATOR_WS_MAX_AUDIO_BPS", 128*1024),
		WSBurstSeconds:             envIntOr("MODERATOR_WS_BURST_SECONDS", 2),
		WSWriteTimeout:             envDurationOr("MODERATOR_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:             envDurationOr("MODERATOR_WS_PING_INTERVAL", 20*time.Second),
		WSReadTimeout:              envDurationOr("MODERATOR_WS_READ_TIMEOUT", 0),
		WSMaxSessionsPerPrincipal:  envIntOr("MODERATOR_WS_MAX_SESSIONS_PER_PRINCIPAL", 4),
		LimitRPS:                   envFloat64Or("MODERATOR_RATE_LIMIT_RPS", 10),
		LimitBurst:                 envIntOr("MODERATOR_RATE_LIMIT_BURST", 20),
		LimitMaxConcurrentRequests: envIntOr("MODERATOR_MAX_CONCURRENT_REQUESTS", 20),
		ReadHeaderTimeout:          envDurationOr("MODERATOR_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:        envDurationOr("MODERATOR_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("MODERATOR_AUTH_MODE must be one of required|optional|disabled")
	}

	level, err := parseLevel(envOr("MODERATOR_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	for _, key := range splitCSV(os.Getenv("MODERATOR_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	origins := os.Getenv("MODERATOR_CORS_ORIGINS")
	if strings.TrimSpace(origins) == "" {
		origins = envOr("CORS_ORIGINS", "http://localhost:3000")
	}
	for _, origin := range splitCSV(origins) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	cfg.Judges = splitCSV(strings.ToLower(envOr("MODERATOR_JUDGES", strings.Join(KnownJudges, ","))))
	for _, name := range cfg.Judges {
		if !known(name) {
			return Config{}, fmt.Errorf("MODERATOR_JUDGES: unknown judge %q (want any of %s)", name, strings.Join(KnownJudges, ","))
		}
	}

	switch cfg.ReasoningProvider {
	case ReasoningOpenAI, ReasoningGemini, ReasoningNone:
	default:
		return Config{}, fmt.Errorf("MODERATOR_REASONING_PROVIDER must be one of openai|gemini|none")
	}
	switch cfg.SpeakerAttribution {
	case "static", "round_robin", "reasoned":
	default:
		return Config{}, fmt.Errorf("MODERATOR_SPEAKER_ATTRIBUTION must be one of static|round_robin|reasoned")
	}
	if cfg.SpeakerAttribution == "reasoned" && cfg.ReasoningProvider == ReasoningNone {
		return Config{}, fmt.Errorf("MODERATOR_SPEAKER_ATTRIBUTION=reasoned needs a reasoning provider")
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_MAX_BODY_BYTES must be > 0")
	}
	if cfg.STTVADThreshold <= 0 || cfg.STTVADThreshold > 1 {
		return Config{}, fmt.Errorf("MODERATOR_STT_VAD_THRESHOLD must be in (0, 1]")
	}
	if cfg.STTPrefixPaddingMS < 0 || cfg.STTSilenceDurationMS <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_STT_PREFIX_PADDING_MS must be >= 0 and MODERATOR_STT_SILENCE_DURATION_MS > 0")
	}
	if cfg.STTConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_STT_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.STTMaxReconnectAttempts < 0 {
		return Config{}, fmt.Errorf("MODERATOR_STT_MAX_RECONNECT_ATTEMPTS must be >= 0")
	}
	if cfg.STTReconnectBaseDelay <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_STT_RECONNECT_BASE_DELAY must be > 0")
	}
	if cfg.STTStableAfter < 0 || cfg.STTPingInterval <= 0 || cfg.STTDisconnectTimeout <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_STT_* durations must be > 0")
	}
	if cfg.MinInterventionInterval <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_MIN_INTERVENTION_INTERVAL must be > 0")
	}
	if cfg.AnalysisWindow <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_ANALYSIS_WINDOW must be > 0")
	}
	if cfg.JudgeTimeout <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_JUDGE_TIMEOUT must be > 0")
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold >= 1 {
		return Config{}, fmt.Errorf("MODERATOR_CONFIDENCE_THRESHOLD must be in [0, 1)")
	}
	if cfg.ParticipationMinUtterances <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_PARTICIPATION_MIN_UTTERANCES must be > 0")
	}
	if cfg.WSMaxJSONBytes <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_WS_MAX_JSON_BYTES must be > 0")
	}
	if cfg.WSMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_WS_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.WSMaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("MODERATOR_WS_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.WSMaxAudioBPS < 0 {
		return Config{}, fmt.Errorf("MODERATOR_WS_MAX_AUDIO_BPS must be >= 0")
	}
	if (cfg.WSMaxAudioFPS > 0 || cfg.WSMaxAudioBPS > 0) && cfg.WSBurstSeconds < 1 {
		return Config{}, fmt.Errorf("MODERATOR_WS_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("MODERATOR_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.WSMaxSessionsPerPrincipal < 0 {
		return Config{}, fmt.Errorf("MODERATOR_WS_MAX_SESSIONS_PER_PRINCIPAL must be >= 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("MODERATOR_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("MODERATOR_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("MODERATOR_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("MODERATOR_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("MODERATOR_API_KEYS must be set when MODERATOR_AUTH_MODE=required")
	}

	return cfg, nil
}

// Issues reports configuration that is valid but leaves a feature degraded.
// It backs the readiness endpoint.
func (c Config) Issues() []string {
	var issues []string
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		issues = append(issues, "OPENAI_API_KEY is not set; transcription is unavailable")
	}
	switch c.ReasoningProvider {
	case ReasoningOpenAI:
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			issues = append(issues, "reasoning provider openai has no api key; LLM judges are disabled")
		}
	case ReasoningGemini:
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			issues = append(issues, "GEMINI_API_KEY is not set; LLM judges are disabled")
		}
	}
	return issues
}

func known(judge string) bool {
	for _, k := range KnownJudges {
		if k == judge {
			return true
		}
	}
	return false
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("MODERATOR_LOG_LEVEL: %w", err)
	}
	return level, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
