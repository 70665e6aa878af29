package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperBatch transcribes recordings through the OpenAI audio API.
type WhisperBatch struct {
	name   string
	model  string
	client *openai.Client
	log    *slog.Logger
}

func NewWhisperBatch(name, apiKey, model string, logger *slog.Logger) (*WhisperBatch, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = openai.Whisper1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhisperBatch{
		name:   name,
		model:  model,
		client: openai.NewClient(apiKey),
		log:    logger.With("component", "engine", "engine", name),
	}, nil
}

func (w *WhisperBatch) Name() string { return w.name }

func (w *WhisperBatch) Transcribe(ctx context.Context, a Audio) (Result, error) {
	path, cleanup, err := tempWAV(a)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	w.log.Debug("whisper transcription request", "model", w.model, "duration", a.Duration())
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
	})
	if err != nil {
		return Result{}, fmt.Errorf("whisper transcription: %w", err)
	}
	return Result{Text: strings.TrimSpace(resp.Text)}, nil
}
