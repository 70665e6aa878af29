// Package config loads the daemon configuration: YAML file, DICTATED_*
// environment overrides, then validation. Every duration field is
// milliseconds in the file and exposed as time.Duration by accessors.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
}

type IngestConfig struct {
	Bind           string `yaml:"bind"`
	ReviewPlayback bool   `yaml:"review_playback"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type SessionConfig struct {
	Mode                string   `yaml:"mode"` // streaming|batch
	StopPhrases         []string `yaml:"stop_phrases"`
	UpdateDebounceMS    int      `yaml:"update_debounce_ms"`
	TranscribeTimeoutMS int      `yaml:"transcribe_timeout_ms"`
	SampleRate          int      `yaml:"sample_rate"`
	Channels            int      `yaml:"channels"`
}

type StreamConfig struct {
	URL              string `yaml:"url"`
	Name             string `yaml:"name"`
	APIKey           string `yaml:"api_key"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
	StopGraceMS      int    `yaml:"stop_grace_ms"`
}

type HTTPEngineConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	// EngineID is forwarded with each request so the endpoint can pick
	// its backend.
	EngineID  string `yaml:"engine_id"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type WhisperAPIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type LocalEngineConfig struct {
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type EnginesConfig struct {
	Fallbacks  []string          `yaml:"fallbacks"`
	HTTP       HTTPEngineConfig  `yaml:"http"`
	WhisperAPI WhisperAPIConfig  `yaml:"whisper_api"`
	Local      LocalEngineConfig `yaml:"local"`
}

type ArtifactsConfig struct {
	Dir             string `yaml:"dir"`
	SaveTranscripts bool   `yaml:"save_transcripts"`
	SaveAudio       bool   `yaml:"save_audio"`
}

type ArchiveConfig struct {
	Path          string `yaml:"path"` // empty disables the archive
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // empty disables the state mirror
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLMS    int    `yaml:"ttl_ms"`
}

type NATSConfig struct {
	URL           string `yaml:"url"` // empty disables publishing
	SubjectPrefix string `yaml:"subject_prefix"`
}

type TelemetryConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

type Config struct {
	Environment string          `yaml:"environment"`
	Log         LogConfig       `yaml:"log"`
	Ingest      IngestConfig    `yaml:"ingest"`
	HTTP        HTTPConfig      `yaml:"http"`
	Session     SessionConfig   `yaml:"session"`
	Stream      StreamConfig    `yaml:"stream"`
	Engines     EnginesConfig   `yaml:"engines"`
	Artifacts   ArtifactsConfig `yaml:"artifacts"`
	Archive     ArchiveConfig   `yaml:"archive"`
	Redis       RedisConfig     `yaml:"redis"`
	NATS        NATSConfig      `yaml:"nats"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		Environment: "development",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ingest: IngestConfig{
			Bind: "0.0.0.0:9092",
		},
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Session: SessionConfig{
			Mode:                "streaming",
			StopPhrases:         []string{"stop dictation", "end dictation"},
			UpdateDebounceMS:    200,
			TranscribeTimeoutMS: 60000,
			SampleRate:          8000,
			Channels:            1,
		},
		Stream: StreamConfig{
			URL:              "ws://127.0.0.1:8089/v1/stream",
			Name:             "realtime",
			ConnectTimeoutMS: 10000,
			StopGraceMS:      500,
		},
		Engines: EnginesConfig{
			Fallbacks: []string{"http", "local"},
			HTTP: HTTPEngineConfig{
				URL:       "http://127.0.0.1:8090/v1/transcribe",
				TimeoutMS: 60000,
			},
			WhisperAPI: WhisperAPIConfig{
				Model: "whisper-1",
			},
			Local: LocalEngineConfig{
				Command:   "whisper-cli -m models/ggml-base.en.bin -f {audio} -oj",
				TimeoutMS: 120000,
			},
		},
		Artifacts: ArtifactsConfig{
			Dir:             "./data/sessions",
			SaveTranscripts: true,
			SaveAudio:       true,
		},
		Archive: ArchiveConfig{
			Path:          "./data/dictated.db",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Redis: RedisConfig{
			TTLMS: 3600000,
		},
		NATS: NATSConfig{
			SubjectPrefix: "dictation",
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
		},
	}
}

// Load resolves the effective configuration. An empty path skips the
// file and uses defaults plus environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c SessionConfig) UpdateDebounce() time.Duration    { return msDuration(c.UpdateDebounceMS) }
func (c SessionConfig) TranscribeTimeout() time.Duration { return msDuration(c.TranscribeTimeoutMS) }
func (c StreamConfig) ConnectTimeout() time.Duration     { return msDuration(c.ConnectTimeoutMS) }
func (c StreamConfig) StopGrace() time.Duration          { return msDuration(c.StopGraceMS) }
func (c HTTPEngineConfig) Timeout() time.Duration        { return msDuration(c.TimeoutMS) }
func (c LocalEngineConfig) Timeout() time.Duration       { return msDuration(c.TimeoutMS) }
func (c RedisConfig) TTL() time.Duration                 { return msDuration(c.TTLMS) }

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// Addr is the HTTP API listen address.
func (c HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Bind, c.Port) }

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Environment, "DICTATED_ENVIRONMENT")
	overrideString(&cfg.Log.Level, "DICTATED_LOG_LEVEL")
	overrideString(&cfg.Log.Format, "DICTATED_LOG_FORMAT")
	overrideString(&cfg.Ingest.Bind, "DICTATED_INGEST_BIND")
	overrideBool(&cfg.Ingest.ReviewPlayback, "DICTATED_INGEST_REVIEW_PLAYBACK")
	overrideString(&cfg.HTTP.Bind, "DICTATED_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DICTATED_HTTP_PORT")
	overrideString(&cfg.Session.Mode, "DICTATED_SESSION_MODE")
	overrideStringSlice(&cfg.Session.StopPhrases, "DICTATED_SESSION_STOP_PHRASES")
	overrideInt(&cfg.Session.UpdateDebounceMS, "DICTATED_SESSION_UPDATE_DEBOUNCE_MS")
	overrideInt(&cfg.Session.TranscribeTimeoutMS, "DICTATED_SESSION_TRANSCRIBE_TIMEOUT_MS")
	overrideInt(&cfg.Session.SampleRate, "DICTATED_SESSION_SAMPLE_RATE")
	overrideInt(&cfg.Session.Channels, "DICTATED_SESSION_CHANNELS")
	overrideString(&cfg.Stream.URL, "DICTATED_STREAM_URL")
	overrideString(&cfg.Stream.Name, "DICTATED_STREAM_NAME")
	overrideString(&cfg.Stream.APIKey, "DICTATED_STREAM_API_KEY")
	overrideInt(&cfg.Stream.ConnectTimeoutMS, "DICTATED_STREAM_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Stream.StopGraceMS, "DICTATED_STREAM_STOP_GRACE_MS")
	overrideStringSlice(&cfg.Engines.Fallbacks, "DICTATED_ENGINE_FALLBACKS")
	overrideString(&cfg.Engines.HTTP.URL, "DICTATED_ENGINE_HTTP_URL")
	overrideString(&cfg.Engines.HTTP.APIKey, "DICTATED_ENGINE_HTTP_API_KEY")
	overrideString(&cfg.Engines.HTTP.EngineID, "DICTATED_ENGINE_HTTP_ENGINE_ID")
	overrideInt(&cfg.Engines.HTTP.TimeoutMS, "DICTATED_ENGINE_HTTP_TIMEOUT_MS")
	overrideString(&cfg.Engines.WhisperAPI.APIKey, "DICTATED_ENGINE_WHISPER_API_KEY")
	overrideString(&cfg.Engines.WhisperAPI.Model, "DICTATED_ENGINE_WHISPER_MODEL")
	overrideString(&cfg.Engines.Local.Command, "DICTATED_ENGINE_LOCAL_COMMAND")
	overrideInt(&cfg.Engines.Local.TimeoutMS, "DICTATED_ENGINE_LOCAL_TIMEOUT_MS")
	overrideString(&cfg.Artifacts.Dir, "DICTATED_ARTIFACTS_DIR")
	overrideBool(&cfg.Artifacts.SaveTranscripts, "DICTATED_ARTIFACTS_SAVE_TRANSCRIPTS")
	overrideBool(&cfg.Artifacts.SaveAudio, "DICTATED_ARTIFACTS_SAVE_AUDIO")
	overrideString(&cfg.Archive.Path, "DICTATED_ARCHIVE_PATH")
	overrideInt(&cfg.Archive.RetentionDays, "DICTATED_ARCHIVE_RETENTION_DAYS")
	overrideInt(&cfg.Archive.MaxSessions, "DICTATED_ARCHIVE_MAX_SESSIONS")
	overrideString(&cfg.Redis.Addr, "DICTATED_REDIS_ADDR")
	overrideString(&cfg.Redis.Password, "DICTATED_REDIS_PASSWORD")
	overrideInt(&cfg.Redis.DB, "DICTATED_REDIS_DB")
	overrideInt(&cfg.Redis.TTLMS, "DICTATED_REDIS_TTL_MS")
	overrideString(&cfg.NATS.URL, "DICTATED_NATS_URL")
	overrideString(&cfg.NATS.SubjectPrefix, "DICTATED_NATS_SUBJECT_PREFIX")
	overrideBool(&cfg.Telemetry.MetricsEnabled, "DICTATED_TELEMETRY_METRICS_ENABLED")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log.level must be one of debug|info|warn|error")
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return errors.New("log.format must be json or text")
	}
	if cfg.Ingest.Bind == "" {
		return errors.New("ingest.bind must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Session.Mode {
	case "streaming", "batch":
	default:
		return errors.New("session.mode must be streaming or batch")
	}
	if cfg.Session.SampleRate <= 0 {
		return errors.New("session.sample_rate must be positive")
	}
	if cfg.Session.Channels <= 0 {
		return errors.New("session.channels must be positive")
	}
	if cfg.Session.Mode == "streaming" && cfg.Stream.URL == "" {
		return errors.New("stream.url must be set when session.mode=streaming")
	}
	for _, name := range cfg.Engines.Fallbacks {
		switch name {
		case "http":
			if cfg.Engines.HTTP.URL == "" {
				return errors.New("engines.http.url must be set when http is a fallback tier")
			}
		case "whisper-api":
			if cfg.Engines.WhisperAPI.APIKey == "" {
				return errors.New("engines.whisper_api.api_key must be set when whisper-api is a fallback tier")
			}
		case "local":
			if cfg.Engines.Local.Command == "" {
				return errors.New("engines.local.command must be set when local is a fallback tier")
			}
		default:
			return fmt.Errorf("engines.fallbacks: unknown engine %q", name)
		}
	}
	if (cfg.Artifacts.SaveTranscripts || cfg.Artifacts.SaveAudio) && cfg.Artifacts.Dir == "" {
		return errors.New("artifacts.dir must be set when artifact saving is enabled")
	}
	if cfg.Archive.Path != "" {
		if cfg.Archive.RetentionDays < 0 {
			return errors.New("archive.retention_days must be >= 0")
		}
		if cfg.Archive.MaxSessions < 0 {
			return errors.New("archive.max_sessions must be >= 0")
		}
	}
	if cfg.Redis.Addr != "" && cfg.Redis.TTLMS < 0 {
		return errors.New("redis.ttl_ms must be >= 0")
	}
	if cfg.NATS.URL != "" && cfg.NATS.SubjectPrefix == "" {
		return errors.New("nats.subject_prefix must not be empty when nats is enabled")
	}
	return nil
}
