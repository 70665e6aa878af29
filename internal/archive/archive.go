// Package archive keeps a SQLite record of completed dictation
// sessions with configurable retention.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voxwrite/dictated/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no archived session matches.
var ErrNotFound = errors.New("session not found in archive")

// Record is one completed session.
type Record struct {
	ID             string    `json:"id"`
	Mode           string    `json:"mode"`
	Status         string    `json:"status"`
	Engine         string    `json:"engine,omitempty"`
	Transcript     string    `json:"transcript"`
	AudioURL       string    `json:"audioUrl,omitempty"`
	Error          string    `json:"error,omitempty"`
	TranscriptPath string    `json:"transcriptPath,omitempty"`
	AudioPath      string    `json:"audioPath,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	StoppedAt      time.Time `json:"stoppedAt"`
	DurationMS     int64     `json:"durationMs"`
	AudioBytes     int64     `json:"audioBytes"`
	Chunks         int       `json:"chunks"`
	Interims       int       `json:"interims"`
	Finals         int       `json:"finals"`
}

// Store wraps the SQLite-backed session archive. A store opened with
// an empty path is disabled: writes are no-ops and reads come back
// empty.
type Store struct {
	db    *sql.DB
	cfg   config.ArchiveConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the archive according to config.
func Open(ctx context.Context, cfg config.ArchiveConfig, log *slog.Logger) (*Store, error) {
	log = log.With("component", "archive")
	if cfg.Path == "" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Prune(ctx); err != nil {
		s.log.Warn("archive prune on start failed", "error", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    status TEXT NOT NULL,
    engine TEXT,
    transcript TEXT,
    audio_url TEXT,
    error TEXT,
    transcript_path TEXT,
    audio_path TEXT,
    started_at TEXT NOT NULL,
    stopped_at TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    audio_bytes INTEGER NOT NULL DEFAULT 0,
    chunks INTEGER NOT NULL DEFAULT 0,
    interims INTEGER NOT NULL DEFAULT 0,
    finals INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_stopped ON sessions(stopped_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether the archive persists anything.
func (s *Store) Enabled() bool { return s.db != nil }

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSession upserts one completed session.
func (s *Store) SaveSession(ctx context.Context, r Record) error {
	if s.db == nil {
		return nil
	}
	if r.StoppedAt.IsZero() {
		r.StoppedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, mode, status, engine, transcript, audio_url, error,
			transcript_path, audio_path, started_at, stopped_at, duration_ms, audio_bytes,
			chunks, interims, finals)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			mode=excluded.mode, status=excluded.status, engine=excluded.engine,
			transcript=excluded.transcript, audio_url=excluded.audio_url, error=excluded.error,
			transcript_path=excluded.transcript_path, audio_path=excluded.audio_path,
			stopped_at=excluded.stopped_at, duration_ms=excluded.duration_ms,
			audio_bytes=excluded.audio_bytes, chunks=excluded.chunks,
			interims=excluded.interims, finals=excluded.finals`,
		r.ID, r.Mode, r.Status, r.Engine, r.Transcript, r.AudioURL, r.Error,
		r.TranscriptPath, r.AudioPath, timeText(r.StartedAt), timeText(r.StoppedAt),
		r.DurationMS, r.AudioBytes, r.Chunks, r.Interims, r.Finals)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession retrieves one archived session by id.
func (s *Store) GetSession(ctx context.Context, id string) (Record, error) {
	if s.db == nil {
		return Record{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM sessions WHERE session_id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// ListSessions retrieves up to limit sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM sessions ORDER BY stopped_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune applies the configured retention: sessions older than the
// retention window and anything beyond the newest max_sessions.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE stopped_at < ?`, timeText(cutoff)); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY stopped_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

const selectColumns = `SELECT session_id, mode, status, engine, transcript, audio_url, error,
	transcript_path, audio_path, started_at, stopped_at, duration_ms, audio_bytes,
	chunks, interims, finals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var started, stopped string
	err := row.Scan(&r.ID, &r.Mode, &r.Status, &r.Engine, &r.Transcript, &r.AudioURL, &r.Error,
		&r.TranscriptPath, &r.AudioPath, &started, &stopped, &r.DurationMS, &r.AudioBytes,
		&r.Chunks, &r.Interims, &r.Finals)
	if err != nil {
		return Record{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
		r.StartedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, stopped); err == nil {
		r.StoppedAt = ts
	}
	return r, nil
}

// timeText stores timestamps as fixed-width RFC3339 UTC strings so
// lexical comparison in SQL matches chronological order.
func timeText(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
