package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Mode != "streaming" {
		t.Fatalf("expected streaming default, got %q", cfg.Session.Mode)
	}
	if got := cfg.Session.UpdateDebounce(); got != 200*time.Millisecond {
		t.Fatalf("expected 200ms debounce, got %v", got)
	}
	if len(cfg.Engines.Fallbacks) != 2 || cfg.Engines.Fallbacks[0] != "http" {
		t.Fatalf("expected default fallback tiers, got %v", cfg.Engines.Fallbacks)
	}
	if cfg.Archive.Path == "" {
		t.Fatal("expected archive enabled by default")
	}
	if cfg.Redis.Addr != "" || cfg.NATS.URL != "" {
		t.Fatal("expected redis and nats disabled by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
session:
  mode: batch
  sample_rate: 16000
stream:
  url: ws://stt.internal:8089/v1/stream
engines:
  fallbacks: [local]
redis:
  addr: 127.0.0.1:6379
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Mode != "batch" {
		t.Fatalf("expected batch mode, got %q", cfg.Session.Mode)
	}
	if cfg.Session.SampleRate != 16000 {
		t.Fatalf("expected sample rate override, got %d", cfg.Session.SampleRate)
	}
	if cfg.Session.Channels != 1 {
		t.Fatalf("expected untouched default channels, got %d", cfg.Session.Channels)
	}
	if len(cfg.Engines.Fallbacks) != 1 || cfg.Engines.Fallbacks[0] != "local" {
		t.Fatalf("expected fallback override, got %v", cfg.Engines.Fallbacks)
	}
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("expected redis addr, got %q", cfg.Redis.Addr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DICTATED_SESSION_MODE", "batch")
	t.Setenv("DICTATED_SESSION_STOP_PHRASES", "that is all, stop writing")
	t.Setenv("DICTATED_STREAM_URL", "ws://stt:8089/v1/stream")
	t.Setenv("DICTATED_ENGINE_FALLBACKS", "whisper-api, local")
	t.Setenv("DICTATED_ENGINE_WHISPER_API_KEY", "sk-test")
	t.Setenv("DICTATED_REDIS_ADDR", "redis:6379")
	t.Setenv("DICTATED_REDIS_TTL_MS", "60000")
	t.Setenv("DICTATED_TELEMETRY_METRICS_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Mode != "batch" {
		t.Fatalf("expected mode override, got %q", cfg.Session.Mode)
	}
	if len(cfg.Session.StopPhrases) != 2 || cfg.Session.StopPhrases[1] != "stop writing" {
		t.Fatalf("expected stop phrase override, got %v", cfg.Session.StopPhrases)
	}
	if len(cfg.Engines.Fallbacks) != 2 || cfg.Engines.Fallbacks[0] != "whisper-api" {
		t.Fatalf("expected fallback override, got %v", cfg.Engines.Fallbacks)
	}
	if cfg.Engines.WhisperAPI.APIKey != "sk-test" {
		t.Fatal("expected whisper api key override")
	}
	if cfg.Redis.TTL() != time.Minute {
		t.Fatalf("expected 60s redis ttl, got %v", cfg.Redis.TTL())
	}
	if cfg.Telemetry.MetricsEnabled {
		t.Fatal("expected metrics disabled by override")
	}
}

func TestValidationRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "unknown engine tier",
			env:  map[string]string{"DICTATED_ENGINE_FALLBACKS": "http, cloud9"},
			want: "unknown engine",
		},
		{
			name: "whisper tier without key",
			env:  map[string]string{"DICTATED_ENGINE_FALLBACKS": "whisper-api"},
			want: "whisper_api.api_key",
		},
		{
			name: "bad session mode",
			env:  map[string]string{"DICTATED_SESSION_MODE": "hybrid"},
			want: "session.mode",
		},
		{
			name: "bad log level",
			env:  map[string]string{"DICTATED_LOG_LEVEL": "verbose"},
			want: "log.level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
