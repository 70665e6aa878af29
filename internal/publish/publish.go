// Package publish emits dictation session lifecycle and transcript
// events to NATS as JSON. Unconfigured, the publisher discards
// everything; publish failures are logged, never surfaced.
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxwrite/dictated/internal/config"
	"github.com/voxwrite/dictated/internal/dictation"
)

// Subject suffixes under the configured prefix.
const (
	suffixSessionStarted    = "session.started"
	suffixSessionEnded      = "session.ended"
	suffixTranscriptPartial = "transcript.partial"
	suffixTranscriptFinal   = "transcript.final"
)

// SessionEvent is the payload on session.* subjects.
type SessionEvent struct {
	SessionID  string    `json:"sessionId"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Engine     string    `json:"engine,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TranscriptEvent is the payload on transcript.* subjects. Text is the
// rendered view, provisional marker included for partials.
type TranscriptEvent struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher fans session events onto the bus.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

var _ dictation.Observer = (*Publisher)(nil)

// Connect builds a publisher from config. An empty URL disables it.
func Connect(cfg config.NATSConfig, log *slog.Logger) (*Publisher, error) {
	p := &Publisher{prefix: cfg.SubjectPrefix, log: log.With("component", "publish")}
	if cfg.URL == "" {
		return p, nil
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("dictated"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	p.conn = conn
	p.log.Info("connected to NATS", "url", cfg.URL)
	return p, nil
}

// Enabled reports whether events go anywhere.
func (p *Publisher) Enabled() bool { return p.conn != nil }

func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	p.conn.Drain()
	p.conn.Close()
}

func (p *Publisher) SessionStarted(snap dictation.Snapshot) {
	p.publish(suffixSessionStarted, SessionEvent{
		SessionID: snap.ID,
		Mode:      string(snap.Mode),
		Status:    string(snap.Status),
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) TranscriptUpdated(snap dictation.Snapshot, view string, final bool) {
	suffix := suffixTranscriptPartial
	if final {
		suffix = suffixTranscriptFinal
	}
	p.publish(suffix, TranscriptEvent{
		SessionID: snap.ID,
		Text:      view,
		Final:     final,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) SessionEnded(snap dictation.Snapshot) {
	p.publish(suffixSessionEnded, SessionEvent{
		SessionID:  snap.ID,
		Mode:       string(snap.Mode),
		Status:     string(snap.Status),
		Engine:     snap.Engine,
		Transcript: snap.Transcript,
		Error:      snap.Error,
		DurationMS: snap.DurationMS,
		Timestamp:  time.Now().UTC(),
	})
}

func (p *Publisher) publish(suffix string, v any) {
	if p.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.log.Warn("failed to marshal event", "suffix", suffix, "error", err)
		return
	}
	if err := p.conn.Publish(p.subject(suffix), data); err != nil {
		p.log.Warn("failed to publish event", "suffix", suffix, "error", err)
	}
}

func (p *Publisher) subject(suffix string) string {
	return p.prefix + "." + suffix
}
