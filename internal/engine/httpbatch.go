package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// HTTPBatch posts the recording to a remote batch transcription
// endpoint: a multipart form carrying the audio asset and the engine
// identifier, answered with {"text": ..., "audioUrl": ...}.
type HTTPBatch struct {
	name     string
	url      string
	engineID string
	apiKey   string
	client   *http.Client
	log      *slog.Logger
}

// NewHTTPBatch configures a remote batch engine. engineID is forwarded
// to the endpoint so it can pick its backend.
func NewHTTPBatch(name, url, engineID string, timeout time.Duration, logger *slog.Logger) (*HTTPBatch, error) {
	if url == "" {
		return nil, fmt.Errorf("batch endpoint URL is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPBatch{
		name:     name,
		url:      url,
		engineID: engineID,
		client:   &http.Client{Timeout: timeout},
		log:      logger.With("component", "engine", "engine", name),
	}, nil
}

// SetAPIKey makes requests carry a bearer token.
func (b *HTTPBatch) SetAPIKey(key string) { b.apiKey = key }

func (b *HTTPBatch) Name() string { return b.name }

func (b *HTTPBatch) Transcribe(ctx context.Context, a Audio) (Result, error) {
	path, cleanup, err := tempWAV(a)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return Result{}, fmt.Errorf("build multipart: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open temp wav: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("copy audio: %w", err)
	}
	f.Close()
	if err := mw.WriteField("engine", b.engineID); err != nil {
		return Result{}, fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	b.log.Debug("batch transcription request", "bytes", len(a.PCM), "duration", a.Duration())
	resp, err := b.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("batch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Result{}, fmt.Errorf("batch endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode batch response: %w", err)
	}
	return result, nil
}
