package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want :9090", cfg.BindAddr)
	}
	if cfg.Mode != "decoupled" {
		t.Fatalf("Mode = %q, want decoupled", cfg.Mode)
	}
	if cfg.AgentHTTPURL != "" {
		t.Fatalf("AgentHTTPURL = %q, want empty default", cfg.AgentHTTPURL)
	}
	if cfg.SessionTimeout != 5*time.Minute {
		t.Fatalf("SessionTimeout = %v, want 5m", cfg.SessionTimeout)
	}
	if !cfg.InterruptEnabled {
		t.Fatal("InterruptEnabled should default to true")
	}
	if cfg.RetrievalLimit != 3 {
		t.Fatalf("RetrievalLimit = %d, want 3", cfg.RetrievalLimit)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AGENT_HTTP_URL", "http://localhost:7777/generate")
	t.Setenv("APP_SESSION_TIMEOUT", "90s")
	t.Setenv("APP_VAD_THRESHOLD", "0.8")
	t.Setenv("AUTH_ALLOWED_AGENTS", "concierge, support,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentHTTPURL != "http://localhost:7777/generate" {
		t.Fatalf("AgentHTTPURL = %q, want explicit value", cfg.AgentHTTPURL)
	}
	if cfg.SessionTimeout != 90*time.Second {
		t.Fatalf("SessionTimeout = %v, want 90s", cfg.SessionTimeout)
	}
	if cfg.VADThreshold != 0.8 {
		t.Fatalf("VADThreshold = %v, want 0.8", cfg.VADThreshold)
	}
	if len(cfg.AllowedAgents) != 2 || cfg.AllowedAgents[0] != "concierge" || cfg.AllowedAgents[1] != "support" {
		t.Fatalf("AllowedAgents = %v, want [concierge support]", cfg.AllowedAgents)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"short session timeout", "APP_SESSION_TIMEOUT", "1s"},
		{"bad duration", "APP_SHUTDOWN_TIMEOUT", "soon"},
		{"vad threshold out of range", "APP_VAD_THRESHOLD", "1.5"},
		{"zero speech rate", "APP_SPEECH_RATE", "0"},
		{"bad bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
		{"zero retrieval limit", "RETRIEVAL_LIMIT", "0"},
		{"elevenlabs without key", "VOICE_PROVIDER", "elevenlabs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestLoadEndToEndRequiresUpstreamCreds(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_MODE", "end_to_end")
	if _, err := Load(); err == nil {
		t.Fatal("end_to_end mode without upstream credentials should fail")
	}

	t.Setenv("UPSTREAM_WS_URL", "wss://upstream.example.com/api/v3/realtime/dialogue")
	t.Setenv("UPSTREAM_APP_ID", "app-1")
	t.Setenv("UPSTREAM_ACCESS_KEY", "key-1")
	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_TIMEOUT",
		"APP_SWEEP_INTERVAL",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_MODE",
		"APP_LANGUAGE",
		"APP_VOICE_ID",
		"APP_SPEECH_RATE",
		"APP_BOT_NAME",
		"APP_SYSTEM_ROLE",
		"APP_SPEAKING_STYLE",
		"APP_INTERRUPT_ENABLED",
		"APP_INTERRUPT_GRACE",
		"APP_VAD_THRESHOLD",
		"APP_REDACT_TRANSCRIPTS",
		"AUTH_JWT_SECRET",
		"AUTH_ALLOWED_AGENTS",
		"VOICE_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_ASR_MODEL",
		"OPENAI_TTS_MODEL",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_BASE_URL",
		"UPSTREAM_WS_URL",
		"UPSTREAM_APP_ID",
		"UPSTREAM_ACCESS_KEY",
		"UPSTREAM_RESOURCE_ID",
		"UPSTREAM_APP_KEY",
		"UPSTREAM_VOICE",
		"AGENT_ADAPTER_MODE",
		"AGENT_HTTP_URL",
		"AGENT_STREAM_STRICT",
		"DATABASE_URL",
		"RETRIEVAL_COLLECTION",
		"RETRIEVAL_LIMIT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
