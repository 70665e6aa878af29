package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxwrite/dictated/internal/dictation"
)

// saveTimeout bounds the archive write for one settled session.
const saveTimeout = 5 * time.Second

// Recorder persists every settled session as an archive record.
// Archive failures are logged and never affect the session.
type Recorder struct {
	store *Store
	log   *slog.Logger
}

func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, log: logger.With("component", "archive")}
}

func (r *Recorder) SessionStarted(dictation.Snapshot) {}

func (r *Recorder) TranscriptUpdated(dictation.Snapshot, string, bool) {}

func (r *Recorder) SessionEnded(snap dictation.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := r.store.SaveSession(ctx, RecordFromSnapshot(snap)); err != nil {
		r.log.Warn("archive save failed", "session_id", snap.ID, "error", err)
	}
}

// RecordFromSnapshot maps a settled session onto its archive row.
func RecordFromSnapshot(snap dictation.Snapshot) Record {
	return Record{
		ID:             snap.ID,
		Mode:           string(snap.Mode),
		Status:         string(snap.Status),
		Engine:         snap.Engine,
		Transcript:     snap.Transcript,
		AudioURL:       snap.AudioURL,
		Error:          snap.Error,
		TranscriptPath: snap.TranscriptPath,
		AudioPath:      snap.AudioPath,
		StartedAt:      snap.StartedAt,
		StoppedAt:      snap.StoppedAt,
		DurationMS:     snap.DurationMS,
		AudioBytes:     snap.AudioBytes,
		Chunks:         snap.Chunks,
		Interims:       snap.Interims,
		Finals:         snap.Finals,
	}
}

var _ dictation.Observer = (*Recorder)(nil)
