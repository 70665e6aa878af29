package dictation

import (
	"fmt"
	"sync"
	"time"
)

// SessionStats tracks one session's throughput: audio in, fragments
// back, first-result latency.
type SessionStats struct {
	sessionID  string
	sampleRate int
	channels   int
	startTime  time.Time

	mu          sync.Mutex
	endTime     time.Time
	audioBytes  int
	chunks      int
	textLen     int
	interims    int
	finals      int
	firstResult time.Time
}

func NewSessionStats(sessionID string, sampleRate, channels int) *SessionStats {
	return &SessionStats{
		sessionID:  sessionID,
		sampleRate: sampleRate,
		channels:   channels,
		startTime:  time.Now(),
	}
}

func (s *SessionStats) AddAudio(bytes int) {
	s.mu.Lock()
	s.audioBytes += bytes
	s.chunks++
	s.mu.Unlock()
}

func (s *SessionStats) AddResult(text string, final bool) {
	s.mu.Lock()
	if s.firstResult.IsZero() {
		s.firstResult = time.Now()
	}
	s.textLen += len(text)
	if final {
		s.finals++
	} else {
		s.interims++
	}
	s.mu.Unlock()
}

func (s *SessionStats) Finish() {
	s.mu.Lock()
	if s.endTime.IsZero() {
		s.endTime = time.Now()
	}
	s.mu.Unlock()
}

func (s *SessionStats) AudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioBytes
}

func (s *SessionStats) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

func (s *SessionStats) Results() (interims, finals int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interims, s.finals
}

// FirstResultLatency is the time from session start to the first
// fragment, or zero if none arrived.
func (s *SessionStats) FirstResultLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstResult.IsZero() {
		return 0
	}
	return s.firstResult.Sub(s.startTime)
}

// Summary renders the session's numbers for the end-of-session log.
func (s *SessionStats) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.endTime
	if end.IsZero() {
		end = time.Now()
	}
	duration := end.Sub(s.startTime)

	var latency time.Duration
	if !s.firstResult.IsZero() {
		latency = s.firstResult.Sub(s.startTime)
	}

	audioSecs := float64(s.audioBytes) / float64(s.sampleRate*s.channels*2)
	rtf := 0.0
	if audioSecs > 0 {
		rtf = duration.Seconds() / audioSecs
	}

	return fmt.Sprintf(
		"session=%s duration=%v audio=%.2fs bytes=%d chunks=%d text=%d interims=%d finals=%d first_result=%v rtf=%.2f",
		s.sessionID, duration.Round(time.Millisecond), audioSecs, s.audioBytes,
		s.chunks, s.textLen, s.interims, s.finals, latency.Round(time.Millisecond), rtf,
	)
}

// Stats aggregates manager-level counters across sessions.
type Stats struct {
	mu              sync.Mutex
	started         int
	completed       int
	failed          int
	fallbacks       int
	voiceStops      int
	transportErrors int
}

func NewStats() *Stats { return &Stats{} }

func (s *Stats) AddStarted()        { s.mu.Lock(); s.started++; s.mu.Unlock() }
func (s *Stats) AddCompleted()      { s.mu.Lock(); s.completed++; s.mu.Unlock() }
func (s *Stats) AddFailed()         { s.mu.Lock(); s.failed++; s.mu.Unlock() }
func (s *Stats) AddFallback()       { s.mu.Lock(); s.fallbacks++; s.mu.Unlock() }
func (s *Stats) AddVoiceStop()      { s.mu.Lock(); s.voiceStops++; s.mu.Unlock() }
func (s *Stats) AddTransportError() { s.mu.Lock(); s.transportErrors++; s.mu.Unlock() }

// StatsSnapshot is a copy of the aggregate counters.
type StatsSnapshot struct {
	Started         int `json:"started"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Fallbacks       int `json:"fallbacks"`
	VoiceStops      int `json:"voiceStops"`
	TransportErrors int `json:"transportErrors"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Started:         s.started,
		Completed:       s.completed,
		Failed:          s.failed,
		Fallbacks:       s.fallbacks,
		VoiceStops:      s.voiceStops,
		TransportErrors: s.transportErrors,
	}
}
