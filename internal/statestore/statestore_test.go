package statestore

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/voxwrite/dictated/internal/config"
	"github.com/voxwrite/dictated/internal/dictation"
)

// the mirror must be a safe no-op when redis is not configured
func TestDisabledMirror(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(config.RedisConfig{}, log)

	if m.Enabled() {
		t.Fatal("mirror with no addr should be disabled")
	}
	if err := m.Ping(context.Background()); err != nil {
		t.Fatalf("ping on disabled mirror: %v", err)
	}

	snap := dictation.Snapshot{ID: "sess-1", Status: dictation.StatusListening}
	m.SessionStarted(snap)
	m.TranscriptUpdated(snap, "partial text", false)
	m.SessionEnded(snap)

	if err := m.Close(); err != nil {
		t.Fatalf("close on disabled mirror: %v", err)
	}
}
