package recording

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrNoAsset is returned when playback is requested before any session
// has completed.
var ErrNoAsset = errors.New("no completed recording")

// State is the confirmed playback state.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Events receives playback lifecycle confirmations from a Sink. The
// sink reports what actually happened; nothing is assumed from the
// request alone.
type Events interface {
	Started()
	Paused()
	Resumed()
	Ended()
	Failed(err error)
}

// Sink plays PCM audio. Play, Pause and Resume are requests; the sink
// confirms the resulting state through the Events passed to Play.
// Callers gate Pause and Resume on confirmed state.
type Sink interface {
	Play(pcm []byte, sampleRate, channels int, ev Events) error
	Pause() error
	Resume() error
	Stop() error
}

// Player holds the most recent completed recording and drives a Sink.
// Its state only changes when the sink confirms a transition, so the
// reported state never runs ahead of actual playback.
type Player struct {
	mu       sync.Mutex
	sink     Sink
	state    State
	asset    *Recording
	onChange func(State)
	log      *slog.Logger
}

func NewPlayer(sink Sink, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{sink: sink, log: logger.With("component", "player")}
}

// OnStateChange registers a callback invoked after each confirmed
// state transition.
func (p *Player) OnStateChange(fn func(State)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// SetAsset replaces the playable recording wholesale. Any playback of
// the previous asset is stopped.
func (p *Player) SetAsset(rec *Recording) {
	p.mu.Lock()
	active := p.state != StateIdle
	p.asset = rec
	p.mu.Unlock()
	if active {
		p.sink.Stop()
	}
}

// Asset returns the current recording, or nil.
func (p *Player) Asset() *Recording {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asset
}

// State returns the confirmed playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Play starts playback of the current asset, or resumes a paused one.
// Playing is a no-op.
func (p *Player) Play() error {
	p.mu.Lock()
	state := p.state
	asset := p.asset
	p.mu.Unlock()

	switch state {
	case StatePlaying:
		return nil
	case StatePaused:
		return p.sink.Resume()
	default:
		if asset == nil || asset.Empty() {
			return ErrNoAsset
		}
		return p.sink.Play(asset.Bytes(), asset.SampleRate(), asset.Channels(), p)
	}
}

// Pause requests a pause. Anything but confirmed playback is a no-op.
func (p *Player) Pause() error {
	if p.State() != StatePlaying {
		return nil
	}
	return p.sink.Pause()
}

// Toggle pauses when playing, otherwise plays.
func (p *Player) Toggle() error {
	if p.State() == StatePlaying {
		return p.Pause()
	}
	return p.Play()
}

// Stop halts playback. The asset is retained.
func (p *Player) Stop() error {
	if p.State() == StateIdle {
		return nil
	}
	return p.sink.Stop()
}

// Download writes the current asset as a WAV file at path.
func (p *Player) Download(path string) error {
	asset := p.Asset()
	if asset == nil || asset.Empty() {
		return ErrNoAsset
	}
	return asset.SaveWAV(path)
}

// Sink confirmations.

func (p *Player) Started() { p.setState(StatePlaying) }
func (p *Player) Paused()  { p.setState(StatePaused) }
func (p *Player) Resumed() { p.setState(StatePlaying) }
func (p *Player) Ended()   { p.setState(StateIdle) }

// Failed records a playback error and returns to idle. Playback
// errors never affect capture or transcription.
func (p *Player) Failed(err error) {
	p.log.Warn("playback failed", "error", err)
	p.setState(StateIdle)
}

func (p *Player) setState(s State) {
	p.mu.Lock()
	changed := p.state != s
	p.state = s
	fn := p.onChange
	p.mu.Unlock()
	if changed && fn != nil {
		fn(s)
	}
}

var _ Events = (*Player)(nil)
