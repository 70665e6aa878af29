package recording

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SessionInfo identifies the session an artifact belongs to.
type SessionInfo struct {
	ID        string
	Engine    string
	Mode      string
	StartedAt time.Time
}

// Artifacts are the files written for one finalized session. Paths are
// empty when the corresponding output is disabled.
type Artifacts struct {
	TranscriptPath string
	AudioPath      string
}

// Store writes per-session artifacts (transcript text, WAV audio) into
// a flat output directory.
type Store struct {
	dir             string
	saveTranscripts bool
	saveAudio       bool
	log             *slog.Logger
}

func NewStore(dir string, saveTranscripts, saveAudio bool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if saveTranscripts || saveAudio {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	return &Store{
		dir:             dir,
		saveTranscripts: saveTranscripts,
		saveAudio:       saveAudio,
		log:             logger.With("component", "store"),
	}, nil
}

// Save writes the enabled artifacts for one session. A missing
// transcript or an empty recording skips that artifact without error.
func (s *Store) Save(info SessionInfo, transcript string, rec *Recording) (Artifacts, error) {
	var out Artifacts
	base := s.baseName(info)

	if s.saveTranscripts && strings.TrimSpace(transcript) != "" {
		path := filepath.Join(s.dir, base+".txt")
		if err := s.writeTranscript(path, info, transcript, rec); err != nil {
			return out, err
		}
		out.TranscriptPath = path
		s.log.Info("transcript saved", "session_id", info.ID, "path", path)
	}

	if s.saveAudio && rec != nil && !rec.Empty() {
		path := filepath.Join(s.dir, base+".wav")
		if err := rec.SaveWAV(path); err != nil {
			return out, fmt.Errorf("save audio: %w", err)
		}
		out.AudioPath = path
		s.log.Info("audio saved", "session_id", info.ID, "path", path, "duration", rec.Duration().Round(time.Millisecond))
	}

	return out, nil
}

func (s *Store) baseName(info SessionInfo) string {
	ts := info.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	id := info.ID
	if len(id) > 8 {
		id = id[:8]
	}
	engine := info.Engine
	if engine == "" {
		engine = "unknown"
	}
	return fmt.Sprintf("%s_%s_%s", ts.Format("20060102_150405"), engine, id)
}

func (s *Store) writeTranscript(path string, info SessionInfo, transcript string, rec *Recording) error {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Session: %s\n", info.ID))
	b.WriteString(fmt.Sprintf("# Started: %s\n", info.StartedAt.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("# Engine: %s\n", info.Engine))
	b.WriteString(fmt.Sprintf("# Mode: %s\n", info.Mode))
	if rec != nil {
		b.WriteString(fmt.Sprintf("# Duration: %s\n", rec.Duration().Round(time.Millisecond)))
	}
	b.WriteString("\n")
	b.WriteString(transcript)
	if !strings.HasSuffix(transcript, "\n") {
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}
