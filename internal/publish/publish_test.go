package publish

import (
	"io"
	"log/slog"
	"testing"

	"github.com/voxwrite/dictated/internal/config"
	"github.com/voxwrite/dictated/internal/dictation"
)

func TestDisabledPublisher(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := Connect(config.NATSConfig{SubjectPrefix: "dictation"}, log)
	if err != nil {
		t.Fatalf("connect with no url: %v", err)
	}
	if p.Enabled() {
		t.Fatal("publisher with no url should be disabled")
	}

	snap := dictation.Snapshot{ID: "sess-1", Status: dictation.StatusListening}
	p.SessionStarted(snap)
	p.TranscriptUpdated(snap, "partial …", false)
	p.SessionEnded(snap)
	p.Close()
}

func TestSubjects(t *testing.T) {
	p := &Publisher{prefix: "dictation"}
	tests := []struct {
		suffix string
		want   string
	}{
		{suffixSessionStarted, "dictation.session.started"},
		{suffixTranscriptPartial, "dictation.transcript.partial"},
		{suffixTranscriptFinal, "dictation.transcript.final"},
		{suffixSessionEnded, "dictation.session.ended"},
	}
	for _, tt := range tests {
		if got := p.subject(tt.suffix); got != tt.want {
			t.Errorf("subject(%q) = %q, want %q", tt.suffix, got, tt.want)
		}
	}
}
