package recording

import (
	"errors"
	"sync"
)

// ErrNoOutput is returned when playback is requested while no output
// is attached.
var ErrNoOutput = errors.New("no playback output attached")

// SwitchSink routes playback to whichever sink is currently attached.
// The ingest server attaches a connection-backed sink for the lifetime
// of each connection; the player keeps one stable handle across them.
type SwitchSink struct {
	mu  sync.Mutex
	cur Sink
}

func NewSwitchSink() *SwitchSink { return &SwitchSink{} }

// Attach makes sink the playback target. The newest attachment wins.
func (s *SwitchSink) Attach(sink Sink) {
	s.mu.Lock()
	s.cur = sink
	s.mu.Unlock()
}

// Detach clears the target if sink still owns it, so a sink detaching
// after being displaced leaves the newer attachment alone.
func (s *SwitchSink) Detach(sink Sink) {
	s.mu.Lock()
	if s.cur == sink {
		s.cur = nil
	}
	s.mu.Unlock()
}

// Attached reports whether an output is currently available.
func (s *SwitchSink) Attached() bool { return s.target() != nil }

func (s *SwitchSink) target() Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *SwitchSink) Play(pcm []byte, sampleRate, channels int, ev Events) error {
	t := s.target()
	if t == nil {
		return ErrNoOutput
	}
	return t.Play(pcm, sampleRate, channels, ev)
}

func (s *SwitchSink) Pause() error {
	t := s.target()
	if t == nil {
		return ErrNoOutput
	}
	return t.Pause()
}

func (s *SwitchSink) Resume() error {
	t := s.target()
	if t == nil {
		return ErrNoOutput
	}
	return t.Resume()
}

// Stop with no target is a no-op: whatever was playing left with its
// output.
func (s *SwitchSink) Stop() error {
	t := s.target()
	if t == nil {
		return nil
	}
	return t.Stop()
}

var _ Sink = (*SwitchSink)(nil)
