package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice gateway.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	SessionTimeout   time.Duration
	SweepInterval    time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	// Mode selects decoupled (local ASR/agent/TTS) or end_to_end
	// (upstream realtime speech model) processing.
	Mode string

	AuthSecret    string
	AllowedAgents []string

	VoiceProvider     string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIASRModel    string
	OpenAITTSModel    string
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	Language          string
	VoiceID           string
	SpeechRate        float64

	UpstreamURL        string
	UpstreamAppID      string
	UpstreamAccessKey  string
	UpstreamResourceID string
	UpstreamAppKey     string
	UpstreamVoice      string
	BotName            string
	SystemRole         string
	SpeakingStyle      string

	AgentMode         string
	AgentHTTPURL      string
	AgentStreamStrict bool

	DatabaseURL         string
	RetrievalCollection string
	RetrievalLimit      int

	InterruptEnabled  bool
	InterruptGrace    time.Duration
	VADThreshold      float64
	RedactTranscripts bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicegate"),
		AllowAnyOrigin:   false,
		Mode:             envOrDefault("APP_MODE", "decoupled"),

		AuthSecret: stringsTrimSpace("AUTH_JWT_SECRET"),

		VoiceProvider:     envOrDefault("VOICE_PROVIDER", "auto"),
		OpenAIAPIKey:      stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:     envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIASRModel:    envOrDefault("OPENAI_ASR_MODEL", "whisper-1"),
		OpenAITTSModel:    envOrDefault("OPENAI_TTS_MODEL", "tts-1"),
		ElevenLabsAPIKey:  stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		Language:          envOrDefault("APP_LANGUAGE", "en"),
		VoiceID:           envOrDefault("APP_VOICE_ID", "alloy"),
		SpeechRate:        1.0,

		UpstreamURL:        stringsTrimSpace("UPSTREAM_WS_URL"),
		UpstreamAppID:      stringsTrimSpace("UPSTREAM_APP_ID"),
		UpstreamAccessKey:  stringsTrimSpace("UPSTREAM_ACCESS_KEY"),
		UpstreamResourceID: envOrDefault("UPSTREAM_RESOURCE_ID", "volc.speech.dialog"),
		UpstreamAppKey:     stringsTrimSpace("UPSTREAM_APP_KEY"),
		UpstreamVoice:      stringsTrimSpace("UPSTREAM_VOICE"),
		BotName:            envOrDefault("APP_BOT_NAME", "assistant"),
		SystemRole:         stringsTrimSpace("APP_SYSTEM_ROLE"),
		SpeakingStyle:      stringsTrimSpace("APP_SPEAKING_STYLE"),

		AgentMode:    envOrDefault("AGENT_ADAPTER_MODE", "auto"),
		AgentHTTPURL: stringsTrimSpace("AGENT_HTTP_URL"),

		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		RetrievalCollection: stringsTrimSpace("RETRIEVAL_COLLECTION"),
		RetrievalLimit:      3,

		InterruptEnabled: true,
		InterruptGrace:   500 * time.Millisecond,
		VADThreshold:     0.5,

		ShutdownTimeout: 15 * time.Second,
		SessionTimeout:  5 * time.Minute,
		SweepInterval:   10 * time.Second,
	}
	if agents := stringsTrimSpace("AUTH_ALLOWED_AGENTS"); agents != "" {
		for _, a := range strings.Split(agents, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.AllowedAgents = append(cfg.AllowedAgents, a)
			}
		}
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTimeout, err = durationFromEnv("APP_SESSION_TIMEOUT", cfg.SessionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepInterval, err = durationFromEnv("APP_SWEEP_INTERVAL", cfg.SweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.InterruptGrace, err = durationFromEnv("APP_INTERRUPT_GRACE", cfg.InterruptGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.InterruptEnabled, err = boolFromEnv("APP_INTERRUPT_ENABLED", cfg.InterruptEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentStreamStrict, err = boolFromEnv("AGENT_STREAM_STRICT", cfg.AgentStreamStrict)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactTranscripts, err = boolFromEnv("APP_REDACT_TRANSCRIPTS", cfg.RedactTranscripts)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalLimit, err = intFromEnv("RETRIEVAL_LIMIT", cfg.RetrievalLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("APP_VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechRate, err = floatFromEnv("APP_SPEECH_RATE", cfg.SpeechRate)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_TIMEOUT must be at least 5s")
	}
	if cfg.RetrievalLimit <= 0 {
		return Config{}, fmt.Errorf("RETRIEVAL_LIMIT must be positive")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("APP_VAD_THRESHOLD must be within [0,1]")
	}
	if cfg.SpeechRate <= 0 {
		return Config{}, fmt.Errorf("APP_SPEECH_RATE must be positive")
	}
	if strings.EqualFold(strings.TrimSpace(cfg.VoiceProvider), "elevenlabs") && cfg.ElevenLabsAPIKey == "" {
		return Config{}, fmt.Errorf("VOICE_PROVIDER=elevenlabs requires ELEVENLABS_API_KEY")
	}
	if mode := strings.ToLower(cfg.Mode); mode == "end_to_end" || mode == "e2e" {
		if cfg.UpstreamURL == "" || cfg.UpstreamAppID == "" || cfg.UpstreamAccessKey == "" {
			return Config{}, fmt.Errorf("end_to_end mode requires UPSTREAM_WS_URL, UPSTREAM_APP_ID and UPSTREAM_ACCESS_KEY")
		}
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
