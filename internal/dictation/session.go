// Package dictation orchestrates dictation sessions: exclusive audio
// capture, streaming or batch transcription, reconciliation, and the
// session lifecycle around them.
package dictation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxwrite/dictated/internal/recording"
)

// Mode selects how a session transcribes.
type Mode string

const (
	// ModeStreaming sends audio to the realtime service as it is
	// captured and reconciles interim and final fragments live.
	ModeStreaming Mode = "streaming"
	// ModeBatch records locally and transcribes once at stop.
	ModeBatch Mode = "batch"
)

// Status of a session. Transitions only move forward: listening,
// transcribing, then stopped or error. StatusIdle is reported by the
// manager when no session exists.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusListening    Status = "listening"
	StatusTranscribing Status = "transcribing"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
)

// Session is one dictation attempt from capture to transcript. Reads
// are safe from any goroutine; mutation belongs to the manager.
type Session struct {
	id        string
	mode      Mode
	startedAt time.Time
	rec       *recording.Recording
	stats     *SessionStats
	done      chan struct{}

	mu         sync.Mutex
	status     Status
	view       string
	transcript string
	engine     string
	audioURL   string
	arts       recording.Artifacts
	err        error
	stoppedAt  time.Time
}

func newSession(mode Mode, sampleRate, channels int) *Session {
	id := uuid.New().String()
	return &Session{
		id:        id,
		mode:      mode,
		startedAt: time.Now(),
		rec:       recording.New(sampleRate, channels),
		stats:     NewSessionStats(id, sampleRate, channels),
		done:      make(chan struct{}),
		status:    StatusListening,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Mode() Mode           { return s.mode }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Recording is the session's captured audio, growing while listening.
func (s *Session) Recording() *recording.Recording { return s.rec }

// Stats tracks the session's throughput counters.
func (s *Session) Stats() *SessionStats { return s.stats }

// Done closes once the session reaches a terminal status and its
// transcript and artifacts are settled.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// View is the externally visible text: the reconciled buffer while
// dictating, the final transcript afterwards.
func (s *Session) View() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Transcript is the final text. Empty until the session settles.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// Engine names the backend that produced the final transcript.
func (s *Session) Engine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// AudioURL is a remote reference to the uploaded audio, when the batch
// backend returned one.
func (s *Session) AudioURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioURL
}

// Artifacts are the files written for this session, if saving is
// enabled.
func (s *Session) Artifacts() recording.Artifacts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arts
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Snapshot is a point-in-time copy of the session for observers and
// the control API.
type Snapshot struct {
	ID             string    `json:"id"`
	Mode           Mode      `json:"mode"`
	Status         Status    `json:"status"`
	Engine         string    `json:"engine,omitempty"`
	View           string    `json:"view"`
	Transcript     string    `json:"transcript,omitempty"`
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
	FirstResultMS  int64     `json:"firstResultMs,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:             s.id,
		Mode:           s.mode,
		Status:         s.status,
		Engine:         s.engine,
		View:           s.view,
		Transcript:     s.transcript,
		AudioURL:       s.audioURL,
		TranscriptPath: s.arts.TranscriptPath,
		AudioPath:      s.arts.AudioPath,
		StartedAt:      s.startedAt,
		StoppedAt:      s.stoppedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	end := s.stoppedAt
	if end.IsZero() {
		end = time.Now()
	}
	snap.DurationMS = end.Sub(s.startedAt).Milliseconds()

	snap.AudioBytes = int64(s.stats.AudioBytes())
	snap.Chunks = s.stats.Chunks()
	snap.Interims, snap.Finals = s.stats.Results()
	snap.FirstResultMS = s.stats.FirstResultLatency().Milliseconds()
	return snap
}

func (s *Session) setView(view string) {
	s.mu.Lock()
	s.view = view
	s.mu.Unlock()
}

func (s *Session) setStatus(next Status) {
	s.mu.Lock()
	if validTransition(s.status, next) {
		s.status = next
	}
	s.mu.Unlock()
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusListening:
		return to == StatusTranscribing || to == StatusStopped || to == StatusError
	case StatusTranscribing:
		return to == StatusStopped || to == StatusError
	}
	return false
}

// complete settles the session with its final transcript.
func (s *Session) complete(transcript, engine, audioURL string) {
	s.mu.Lock()
	if validTransition(s.status, StatusStopped) {
		s.status = StatusStopped
	}
	s.transcript = transcript
	s.view = transcript
	s.engine = engine
	s.audioURL = audioURL
	s.stoppedAt = time.Now()
	s.mu.Unlock()
}

// fail settles the session in the error state. The recording and the
// last view are retained.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if validTransition(s.status, StatusError) {
		s.status = StatusError
	}
	s.err = err
	s.stoppedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) setArtifacts(arts recording.Artifacts) {
	s.mu.Lock()
	s.arts = arts
	s.mu.Unlock()
}

// finish releases Done waiters. Called exactly once, after the
// terminal status and artifacts are in place.
func (s *Session) finish() { close(s.done) }
