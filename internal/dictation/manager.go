package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxwrite/dictated/internal/capture"
	"github.com/voxwrite/dictated/internal/engine"
	"github.com/voxwrite/dictated/internal/recording"
	"github.com/voxwrite/dictated/internal/transcript"
	"github.com/voxwrite/dictated/internal/transport"
)

var (
	// ErrNoActiveSession is returned by Stop when nothing is running.
	ErrNoActiveSession = errors.New("no active session")
	// ErrTranscriptionFailed means every batch tier failed. The session
	// ends in the error state with its audio retained.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// Streamer is the realtime transcription transport for one session.
// *transport.Stream is the production implementation.
type Streamer interface {
	Connect(ctx context.Context) error
	Send(audio []byte) error
	Events() <-chan transport.Event
	Err() *transport.Error
	Stop() error
	Close() error
}

var _ Streamer = (*transport.Stream)(nil)

// StreamFactory builds a fresh transport per streaming session.
type StreamFactory func() Streamer

// Observer receives session lifecycle notifications: archival,
// publication, and state mirroring hang off these.
type Observer interface {
	SessionStarted(snap Snapshot)
	TranscriptUpdated(snap Snapshot, view string, final bool)
	SessionEnded(snap Snapshot)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) SessionStarted(Snapshot)                  {}
func (NopObserver) TranscriptUpdated(Snapshot, string, bool) {}
func (NopObserver) SessionEnded(Snapshot)                    {}

// MultiObserver fans notifications out in order.
type MultiObserver []Observer

func (m MultiObserver) SessionStarted(snap Snapshot) {
	for _, o := range m {
		o.SessionStarted(snap)
	}
}

func (m MultiObserver) TranscriptUpdated(snap Snapshot, view string, final bool) {
	for _, o := range m {
		o.TranscriptUpdated(snap, view, final)
	}
}

func (m MultiObserver) SessionEnded(snap Snapshot) {
	for _, o := range m {
		o.SessionEnded(snap)
	}
}

// Config tunes the manager.
type Config struct {
	// Mode is the default for new sessions. Streaming degrades to batch
	// while streaming is disabled.
	Mode Mode
	// StreamName labels transcripts produced over the realtime stream.
	StreamName string
	// Fallbacks is the batch engine tier order, tried first to last.
	// Batch sessions use the same order.
	Fallbacks []string
	// StopPhrases end a session when spoken. Empty means defaults.
	StopPhrases []string
	// UpdateDebounce coalesces interim view updates to observers.
	UpdateDebounce time.Duration
	// TranscribeTimeout bounds each batch engine attempt.
	TranscribeTimeout time.Duration
	SampleRate        int
	Channels          int
}

// Options carries the manager's collaborators.
type Options struct {
	Config   Config
	Engines  *engine.Registry
	Streams  StreamFactory     // nil disables streaming entirely
	Store    *recording.Store  // optional artifact output
	Player   *recording.Player // optional playback of the last session
	Observer Observer
	Stats    *Stats
	Logger   *slog.Logger
}

// Manager runs at most one dictation session at a time. Starting a new
// session stops the previous one and waits for its input and transport
// handles to be released before acquiring fresh ones.
type Manager struct {
	cfg      Config
	engines  *engine.Registry
	streams  StreamFactory
	store    *recording.Store
	player   *recording.Player
	observer Observer
	stats    *Stats
	matcher  *PhraseMatcher
	log      *slog.Logger

	mu           sync.Mutex
	current      *active
	last         *Session
	gen          uint64
	lastGen      uint64
	streamingOff bool
}

// active is the run-loop state of the session in flight.
type active struct {
	gen       uint64
	sess      *Session
	recon     *transcript.Reconciler
	notifier  *transcript.Notifier
	capStream capture.Stream
	stream    Streamer
	streamed  bool

	// terminal transport failures; midFailure replaces streamed text
	// with the fallback transcript, stopFailure keeps it
	midFailure  *transport.Error
	stopFailure *transport.Error
	// midClose means the service closed cleanly mid-session, so the
	// recording holds speech the stream never transcribed
	midClose bool

	edits    chan editRequest
	stop     chan struct{}
	stopOnce sync.Once
	reason   string
	released chan struct{}
}

// editRequest carries a manual transcript edit into the event loop.
type editRequest struct {
	text    string
	applied chan struct{}
}

// requestStop is idempotent; the first caller's reason wins.
func (a *active) requestStop(reason string) {
	a.stopOnce.Do(func() {
		a.reason = reason
		close(a.stop)
	})
}

func NewManager(opts Options) *Manager {
	cfg := opts.Config
	if cfg.Mode == "" {
		cfg.Mode = ModeStreaming
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "realtime"
	}
	if cfg.UpdateDebounce <= 0 {
		cfg.UpdateDebounce = transcript.DefaultDebounce
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 60 * time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	phrases := cfg.StopPhrases
	if len(phrases) == 0 {
		phrases = DefaultStopPhrases
	}
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	stats := opts.Stats
	if stats == nil {
		stats = NewStats()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		engines:  opts.Engines,
		streams:  opts.Streams,
		store:    opts.Store,
		player:   opts.Player,
		observer: obs,
		stats:    stats,
		matcher:  NewPhraseMatcher(phrases),
		log:      log.With("component", "dictation"),
	}
}

// Start begins a new session reading from dev. An already running
// session is stopped first; its handles are fully released before the
// new acquisition, so a device busy error here means someone outside
// the manager holds the input.
func (m *Manager) Start(ctx context.Context, dev capture.Device) (*Session, error) {
	m.mu.Lock()
	prev := m.current
	m.mu.Unlock()
	if prev != nil {
		m.log.Info("replacing active session", "session_id", prev.sess.ID())
		prev.requestStop("replaced")
		select {
		case <-prev.released:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	streaming := m.cfg.Mode == ModeStreaming && m.streams != nil && m.StreamingEnabled()
	interval := capture.BatchInterval
	if streaming {
		interval = capture.StreamingInterval
	}

	capStream, err := dev.Acquire(ctx, interval)
	if err != nil {
		return nil, fmt.Errorf("acquire input: %w", err)
	}

	a := &active{
		capStream: capStream,
		recon:     transcript.NewReconciler(),
		edits:     make(chan editRequest),
		stop:      make(chan struct{}),
		released:  make(chan struct{}),
	}

	mode := ModeBatch
	if streaming {
		st := m.streams()
		if err := st.Connect(ctx); err != nil {
			// the input stays live; the session records for batch
			// transcription at stop
			m.disableStreaming(err)
			if a.midFailure = st.Err(); a.midFailure == nil {
				a.midFailure = &transport.Error{Kind: transport.KindConnection, Err: err}
			}
			m.log.Warn("streaming unavailable, recording for batch transcription",
				"error", err)
		} else {
			a.stream = st
			a.streamed = true
			mode = ModeStreaming
		}
	}

	sess := newSession(mode, m.cfg.SampleRate, m.cfg.Channels)
	a.sess = sess
	a.notifier = transcript.NewNotifier(m.cfg.UpdateDebounce, func(view string, final bool) {
		m.observer.TranscriptUpdated(sess.Snapshot(), view, final)
	})

	m.mu.Lock()
	m.gen++
	a.gen = m.gen
	m.current = a
	m.mu.Unlock()

	m.stats.AddStarted()
	m.log.Info("session started",
		"session_id", sess.ID(),
		"mode", string(mode),
		"interval", interval,
	)
	m.observer.SessionStarted(sess.Snapshot())

	go m.run(a)
	return sess, nil
}

// Stop ends the active session and waits for it to settle, which
// includes batch transcription in batch mode.
func (m *Manager) Stop(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	a := m.current
	m.mu.Unlock()
	if a == nil {
		return nil, ErrNoActiveSession
	}
	a.requestStop("requested")
	select {
	case <-a.sess.Done():
		return a.sess, nil
	case <-ctx.Done():
		return a.sess, ctx.Err()
	}
}

// SetTranscript replaces the active session's buffer with externally
// edited text. The edit is applied inside the event loop: the open run
// (if any) closes, later fragments append after the edited text, and
// reconciliation never revises it.
func (m *Manager) SetTranscript(text string) error {
	m.mu.Lock()
	a := m.current
	m.mu.Unlock()
	if a == nil {
		return ErrNoActiveSession
	}
	req := editRequest{text: text, applied: make(chan struct{})}
	select {
	case a.edits <- req:
		// the loop holds the edit; wait for the new view to be visible
		<-req.applied
		return nil
	case <-a.stop:
		return ErrNoActiveSession
	}
}

// Current returns the session in flight, if any.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, false
	}
	return m.current.sess, true
}

// Last returns the most recently settled session.
func (m *Manager) Last() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, false
	}
	return m.last, true
}

// Status reports the active session's status, or idle.
func (m *Manager) Status() Status {
	if sess, ok := m.Current(); ok {
		return sess.Status()
	}
	return StatusIdle
}

// Stats returns the aggregate counters.
func (m *Manager) Stats() StatsSnapshot { return m.stats.Snapshot() }

// StreamingEnabled reports whether new sessions may stream. A
// transport failure disables streaming until EnableStreaming.
func (m *Manager) StreamingEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.streamingOff
}

// EnableStreaming lifts the latch set by a transport failure.
func (m *Manager) EnableStreaming() {
	m.mu.Lock()
	was := m.streamingOff
	m.streamingOff = false
	m.mu.Unlock()
	if was {
		m.log.Info("streaming re-enabled")
	}
}

func (m *Manager) disableStreaming(cause error) {
	m.mu.Lock()
	was := m.streamingOff
	m.streamingOff = true
	m.mu.Unlock()
	m.stats.AddTransportError()
	if !was {
		m.log.Warn("streaming disabled until re-enabled", "cause", cause)
	}
}

// run is the session event loop: capture chunks in, transcription
// events back, stop signals from any direction.
func (m *Manager) run(a *active) {
	chunks := a.capStream.Chunks()
	var events <-chan transport.Event
	if a.stream != nil {
		events = a.stream.Events()
	}

	running := true
	for running {
		select {
		case <-a.stop:
			running = false

		case chunk, ok := <-chunks:
			if !ok {
				a.requestStop("input ended")
				running = false
			} else {
				m.ingestChunk(a, chunk)
			}

		case req := <-a.edits:
			m.applyEdit(a, req)

		case ev, ok := <-events:
			if !ok {
				events = nil
				if terr := a.stream.Err(); terr != nil {
					m.noteStreamFailure(a, terr, false)
					a.requestStop("transport failed")
					running = false
				} else {
					// service closed cleanly on its own; keep recording
					// for batch transcription at stop
					m.log.Warn("stream closed by service", "session_id", a.sess.ID())
					a.midClose = true
					a.stream = nil
				}
			} else if !m.handleEvent(a, ev, false) {
				a.requestStop("transport failed")
				running = false
			}
		}
	}

	m.settle(a)
}

func (m *Manager) ingestChunk(a *active, chunk capture.Chunk) {
	a.sess.rec.Append(chunk.Data)
	a.sess.stats.AddAudio(len(chunk.Data))
	if a.stream != nil {
		if err := a.stream.Send(chunk.Data); err != nil {
			// the pump surfaces terminal failures; a failed send only
			// means this chunk was missed
			m.log.Debug("audio send failed", "session_id", a.sess.ID(), "seq", chunk.Seq, "error", err)
		}
	}
}

// applyEdit installs a manual edit as the committed buffer. The edit
// is settled history: reconciliation never reaches back into it.
func (m *Manager) applyEdit(a *active, req editRequest) {
	a.recon.SetCommitted(req.text)
	view := a.recon.View()
	a.sess.setView(view)
	a.notifier.Final(view)
	close(req.applied)
	m.log.Debug("transcript edited", "session_id", a.sess.ID(), "chars", len(req.text))
}

// handleEvent folds one transport event into the session. It returns
// false when the event was a terminal transport failure.
func (m *Manager) handleEvent(a *active, ev transport.Event, stopping bool) bool {
	switch {
	case ev.Fragment != nil:
		frag := *ev.Fragment
		if a.recon.Apply(frag) {
			view := a.recon.View()
			a.sess.setView(view)
			if frag.Final {
				a.notifier.Final(view)
			} else {
				a.notifier.Interim(view)
			}
		}
		a.sess.stats.AddResult(frag.Text, frag.Final)
		if frag.Final {
			if phrase, ok := m.matcher.Match(frag.Text); ok {
				m.log.Info("stop phrase detected", "session_id", a.sess.ID(), "phrase", phrase)
				m.stats.AddVoiceStop()
				a.requestStop("voice command")
			}
		}
		return true

	case ev.Status != "":
		m.log.Debug("stream status", "session_id", a.sess.ID(), "status", ev.Status)
		return true

	case ev.Err != nil:
		m.noteStreamFailure(a, ev.Err, stopping)
		return false
	}
	return true
}

func (m *Manager) noteStreamFailure(a *active, terr *transport.Error, stopping bool) {
	m.disableStreaming(terr)
	if stopping {
		if a.stopFailure == nil {
			a.stopFailure = terr
		}
	} else if a.midFailure == nil {
		a.midFailure = terr
	}
	m.log.Error("stream failed",
		"session_id", a.sess.ID(),
		"kind", terr.Kind.String(),
		"error", terr.Err,
		"stopping", stopping,
	)
}

// settle drains the session's inputs, resolves the final transcript,
// and finalizes. The capture handle and transport are released before
// any batch transcription runs, so a new session can start while a
// slow batch request is still in flight.
func (m *Manager) settle(a *active) {
	sess := a.sess
	sess.setStatus(StatusTranscribing)
	m.log.Debug("session settling", "session_id", sess.ID(), "reason", a.reason)

	// release the input; trailing chunks still count
	a.capStream.Close()
	for chunk := range a.capStream.Chunks() {
		m.ingestChunk(a, chunk)
	}
	if err := a.capStream.Err(); err != nil {
		m.log.Warn("input ended abnormally", "session_id", sess.ID(), "error", err)
	}

	// graceful stream shutdown: the stop control goes out and trailing
	// finals drain for the grace period
	if a.stream != nil {
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for ev := range a.stream.Events() {
				m.handleEvent(a, ev, true)
			}
		}()
		a.stream.Stop()
		<-drained
		if terr := a.stream.Err(); terr != nil && a.midFailure == nil && a.stopFailure == nil {
			m.noteStreamFailure(a, terr, true)
		}
	}

	m.release(a)

	committed := a.recon.Finalize()
	var (
		text       string
		engineName string
		audioURL   string
		finalErr   error
	)
	switch {
	case a.streamed && (a.midFailure != nil || a.midClose):
		// the stream died (or the service left) mid-session: the batch
		// transcript covers the full recording and replaces whatever
		// partial text streamed before
		m.stats.AddFallback()
		text, engineName, audioURL, finalErr = m.fallbackChain(sess)
	case a.stopFailure != nil && committed == "":
		m.stats.AddFallback()
		text, engineName, audioURL, finalErr = m.fallbackChain(sess)
	case a.streamed:
		text, engineName = committed, m.cfg.StreamName
	default:
		// batch transcription, including sessions that degraded at
		// connect; the result appends after any manual edits the same
		// way a final fragment would
		if a.midFailure != nil {
			m.stats.AddFallback()
		}
		text, engineName, audioURL, finalErr = m.fallbackChain(sess)
		if finalErr == nil {
			text = transcript.Join(committed, text)
		}
	}

	m.finalize(a, text, engineName, audioURL, finalErr)
}

// release frees the session's claim on the input and transport so the
// next session can acquire them.
func (m *Manager) release(a *active) {
	if a.stream != nil {
		a.stream.Close()
	}
	close(a.released)
}

// fallbackChain tries the configured batch engines in tier order over
// the full recording.
func (m *Manager) fallbackChain(sess *Session) (string, string, string, error) {
	rec := sess.rec
	if rec.Empty() {
		return "", "", "", nil
	}
	if m.engines == nil || len(m.cfg.Fallbacks) == 0 {
		return "", "", "", fmt.Errorf("%w: no batch engines configured", ErrTranscriptionFailed)
	}

	audio := engine.Audio{
		PCM:        rec.Bytes(),
		SampleRate: rec.SampleRate(),
		Channels:   rec.Channels(),
	}
	var errs []error
	for _, name := range m.cfg.Fallbacks {
		eng, err := m.engines.Get(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TranscribeTimeout)
		res, err := eng.Transcribe(ctx, audio)
		cancel()
		if err != nil {
			m.log.Warn("batch engine failed",
				"session_id", sess.ID(),
				"engine", name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		m.log.Info("batch transcription complete",
			"session_id", sess.ID(),
			"engine", name,
			"chars", len(res.Text),
		)
		return strings.TrimSpace(res.Text), name, res.AudioURL, nil
	}
	return "", "", "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, errors.Join(errs...))
}

func (m *Manager) finalize(a *active, text, engineName, audioURL string, finalErr error) {
	sess := a.sess
	if finalErr != nil {
		sess.fail(finalErr)
		m.stats.AddFailed()
	} else {
		sess.complete(text, engineName, audioURL)
		m.stats.AddCompleted()
	}
	a.notifier.Final(sess.View())
	a.notifier.Stop()

	// the last-session slot and playback asset go to the newest
	// generation; a slow batch result from a replaced session must not
	// clobber them
	m.mu.Lock()
	if m.current == a {
		m.current = nil
	}
	stale := a.gen <= m.lastGen
	if !stale {
		m.lastGen = a.gen
		m.last = sess
	}
	m.mu.Unlock()
	if stale {
		m.log.Info("discarding stale session result", "session_id", sess.ID())
	} else if m.player != nil && !sess.rec.Empty() {
		m.player.SetAsset(sess.rec)
	}

	if m.store != nil {
		arts, err := m.store.Save(recording.SessionInfo{
			ID:        sess.ID(),
			Engine:    engineName,
			Mode:      string(sess.Mode()),
			StartedAt: sess.StartedAt(),
		}, sess.Transcript(), sess.rec)
		if err != nil {
			m.log.Error("artifact save failed", "session_id", sess.ID(), "error", err)
		} else {
			sess.setArtifacts(arts)
		}
	}

	sess.stats.Finish()
	m.log.Info("session ended",
		"session_id", sess.ID(),
		"status", string(sess.Status()),
		"engine", sess.Engine(),
		"reason", a.reason,
		"stats", sess.stats.Summary(),
	)
	m.observer.SessionEnded(sess.Snapshot())
	sess.finish()
}
