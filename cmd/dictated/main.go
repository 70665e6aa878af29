// Command dictated runs the dictation daemon: an AudioSocket ingest
// listener that turns connections into dictation sessions, and an HTTP
// API for session control, transcripts, playback, and archives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxwrite/dictated/internal/archive"
	"github.com/voxwrite/dictated/internal/config"
	"github.com/voxwrite/dictated/internal/dictation"
	"github.com/voxwrite/dictated/internal/engine"
	"github.com/voxwrite/dictated/internal/httpapi"
	"github.com/voxwrite/dictated/internal/ingest"
	"github.com/voxwrite/dictated/internal/publish"
	"github.com/voxwrite/dictated/internal/recording"
	"github.com/voxwrite/dictated/internal/statestore"
	"github.com/voxwrite/dictated/internal/telemetry"
	"github.com/voxwrite/dictated/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var configFile string
	flag.StringVar(&configFile, "config", "", "configuration file path")
	flag.Parse()

	// .env is optional; its variables feed the DICTATED_* overrides
	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.Log)
	slog.SetDefault(log)
	log.Info("starting dictated",
		"environment", cfg.Environment,
		"mode", cfg.Session.Mode,
		"fallbacks", cfg.Engines.Fallbacks,
	)

	shutdownMetrics, metricsHandler, err := telemetry.Setup("dictated", cfg.Environment, cfg.Telemetry.MetricsEnabled, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(ctx); err != nil {
			log.Warn("metrics shutdown failed", "error", err)
		}
	}()

	engines, err := buildEngines(cfg.Engines, log)
	if err != nil {
		return err
	}

	var store *recording.Store
	if cfg.Artifacts.SaveTranscripts || cfg.Artifacts.SaveAudio {
		store, err = recording.NewStore(cfg.Artifacts.Dir, cfg.Artifacts.SaveTranscripts, cfg.Artifacts.SaveAudio, log)
		if err != nil {
			return fmt.Errorf("artifact store: %w", err)
		}
	}

	review := recording.NewSwitchSink()
	player := recording.NewPlayer(review, log)

	arch, err := archive.Open(context.Background(), cfg.Archive, log)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer arch.Close()

	mirror := statestore.New(cfg.Redis, log)
	defer mirror.Close()
	if mirror.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := mirror.Ping(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	publisher, err := publish.Connect(cfg.NATS, log)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer publisher.Close()

	stats := dictation.NewStats()
	var observers dictation.MultiObserver
	if arch.Enabled() {
		observers = append(observers, archive.NewRecorder(arch, log))
	}
	if mirror.Enabled() {
		observers = append(observers, mirror)
	}
	if publisher.Enabled() {
		observers = append(observers, publisher)
	}
	if cfg.Telemetry.MetricsEnabled {
		obs, err := telemetry.NewObserver(stats.Snapshot)
		if err != nil {
			return fmt.Errorf("telemetry observer: %w", err)
		}
		observers = append(observers, obs)
	}

	var streams dictation.StreamFactory
	if cfg.Stream.URL != "" {
		streamCfg := cfg.Stream
		streams = func() dictation.Streamer {
			header := http.Header{}
			if streamCfg.APIKey != "" {
				header.Set("Authorization", streamCfg.APIKey)
			}
			return transport.NewStream(transport.Config{
				URL:            streamCfg.URL,
				Header:         header,
				ConnectTimeout: streamCfg.ConnectTimeout(),
				StopGrace:      streamCfg.StopGrace(),
				Logger:         log,
			})
		}
	}

	manager := dictation.NewManager(dictation.Options{
		Config: dictation.Config{
			Mode:              dictation.Mode(cfg.Session.Mode),
			StreamName:        cfg.Stream.Name,
			Fallbacks:         cfg.Engines.Fallbacks,
			StopPhrases:       cfg.Session.StopPhrases,
			UpdateDebounce:    cfg.Session.UpdateDebounce(),
			TranscribeTimeout: cfg.Session.TranscribeTimeout(),
			SampleRate:        cfg.Session.SampleRate,
			Channels:          cfg.Session.Channels,
		},
		Engines:  engines,
		Streams:  streams,
		Store:    store,
		Player:   player,
		Observer: observers,
		Stats:    stats,
		Logger:   log,
	})

	var reviewSink *recording.SwitchSink
	if cfg.Ingest.ReviewPlayback {
		reviewSink = review
	}
	feeds := ingest.New(ingest.Options{
		Manager: manager,
		Review:  reviewSink,
		Logger:  log,
	})

	api := httpapi.New(httpapi.Options{
		Manager:           manager,
		Player:            player,
		Archive:           arch,
		Engines:           engines,
		Fallbacks:         cfg.Engines.Fallbacks,
		TranscribeTimeout: cfg.Session.TranscribeTimeout(),
		Metrics:           metricsHandler,
		Logger:            log,
	})

	errCh := make(chan error, 2)
	go func() {
		if err := feeds.Listen(cfg.Ingest.Bind); err != nil {
			errCh <- fmt.Errorf("ingest: %w", err)
		}
	}()
	go func() {
		if err := api.Listen(cfg.HTTP.Addr()); err != nil {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	log.Info("serving", "ingest", cfg.Ingest.Bind, "http", cfg.HTTP.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case serveErr = <-errCh:
		log.Error("server failed", "error", serveErr)
	}

	// no new feeds, settle the running session, then close the API
	feeds.Stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := manager.Stop(stopCtx); err != nil && !errors.Is(err, dictation.ErrNoActiveSession) {
		log.Warn("session did not settle cleanly", "error", err)
	}
	cancel()
	if err := api.Shutdown(); err != nil {
		log.Warn("http shutdown failed", "error", err)
	}
	return serveErr
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func buildEngines(cfg config.EnginesConfig, log *slog.Logger) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	for _, name := range cfg.Fallbacks {
		b, err := buildEngine(name, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", name, err)
		}
		if err := reg.Register(name, b); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildEngine(name string, cfg config.EnginesConfig, log *slog.Logger) (engine.Batch, error) {
	switch name {
	case "http":
		b, err := engine.NewHTTPBatch(name, cfg.HTTP.URL, cfg.HTTP.EngineID, cfg.HTTP.Timeout(), log)
		if err != nil {
			return nil, err
		}
		if cfg.HTTP.APIKey != "" {
			b.SetAPIKey(cfg.HTTP.APIKey)
		}
		return b, nil
	case "whisper-api":
		return engine.NewWhisperBatch(name, cfg.WhisperAPI.APIKey, cfg.WhisperAPI.Model, log)
	case "local":
		return engine.NewExecBatch(name, cfg.Local.Command, cfg.Local.Timeout(), log)
	default:
		return nil, fmt.Errorf("unknown engine %q", name)
	}
}
