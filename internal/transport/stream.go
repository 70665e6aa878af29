// Package transport maintains the streaming connection to the remote
// transcription service: start/stop controls and audio frames out,
// transcription and status events in.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxwrite/dictated/internal/transcript"
)

const (
	// DefaultConnectTimeout bounds the handshake so no session is ever
	// stuck connecting.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultStopGrace is how long a stopping stream keeps draining
	// trailing transcription events before the connection closes.
	DefaultStopGrace = 500 * time.Millisecond
)

// State of the stream connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Event is one item received from the service. Exactly one field is
// set: Fragment for transcription messages, Status for status
// messages, Err for the terminal failure that ends the stream. The
// events channel closes after a terminal event (or a clean shutdown).
type Event struct {
	Fragment *transcript.Fragment
	Status   string
	Err      *Error
}

// Config for a stream.
type Config struct {
	URL            string
	Header         http.Header
	ConnectTimeout time.Duration
	StopGrace      time.Duration
	Logger         *slog.Logger
}

// Stream is a client for the transcription streaming protocol. One
// stream serves one session; it is not reused after Close or failure.
type Stream struct {
	cfg Config
	log *slog.Logger

	events chan Event
	done   chan struct{} // closed once no further events will arrive

	mu          sync.Mutex
	state       State
	err         *Error
	conn        *websocket.Conn
	pumpStarted bool

	writeMu sync.Mutex

	seq int64 // assigned to fragments in arrival order, pump-only

	doneOnce sync.Once
}

// NewStream returns a disconnected stream.
func NewStream(cfg Config) *Stream {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		cfg:    cfg,
		log:    log.With("component", "transport"),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		state:  StateDisconnected,
	}
}

// Connect dials the service and sends the buffered start control. On
// return the stream is open and events are flowing, or the stream is
// errored and the failure is returned.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect in state %s", st)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		terr := connectionError(fmt.Errorf("dial %s: %w", s.cfg.URL, err))
		s.terminate(terr)
		return terr
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// stopped while the handshake was in flight
		st := s.state
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("stream %s during connect", st)
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	// the start control is buffered until the handshake completes
	if err := s.writeJSON(ClientMessage{Type: TypeStart}); err != nil {
		terr := connectionError(fmt.Errorf("send start: %w", err))
		s.terminate(terr)
		return terr
	}

	s.mu.Lock()
	s.pumpStarted = true
	s.mu.Unlock()
	go s.readPump()

	s.log.Debug("stream open", "url", s.cfg.URL)
	return nil
}

// Send transmits one audio chunk, base64-encoded per the protocol.
func (s *Stream) Send(audio []byte) error {
	if s.State() != StateOpen {
		return ErrNotOpen
	}
	msg := ClientMessage{
		Type:  TypeAudio,
		Audio: base64.StdEncoding.EncodeToString(audio),
	}
	if err := s.writeJSON(msg); err != nil {
		return connectionError(fmt.Errorf("send audio: %w", err))
	}
	return nil
}

// Events delivers transcription, status, and terminal error events in
// arrival order. The channel closes when the stream ends.
func (s *Stream) Events() <-chan Event { return s.events }

// State returns the current connection state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal failure, if the stream errored.
func (s *Stream) Err() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop performs the graceful shutdown: the stop control is sent, then
// trailing events drain for the grace period before the connection
// closes. Stopping a stopped or errored stream is a no-op.
func (s *Stream) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateErrored, StateClosing:
		s.mu.Unlock()
		return nil
	case StateDisconnected, StateConnecting:
		// never opened; there is nothing to drain
		s.state = StateClosed
		pump := s.pumpStarted
		s.mu.Unlock()
		if !pump {
			s.shutdown(nil)
		}
		return nil
	}
	s.state = StateClosing
	s.mu.Unlock()

	// best-effort: the peer may already be gone
	if err := s.writeJSON(ClientMessage{Type: TypeStop}); err != nil {
		s.log.Debug("stop control not delivered", "error", err)
	}

	timer := time.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.done:
	}

	s.mu.Lock()
	if s.state == StateClosing {
		s.state = StateClosed
	}
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	<-s.done
	return nil
}

// Close tears the stream down immediately, without the stop control or
// grace period. Used when a session is replaced. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateErrored:
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.state = StateClosed
	conn := s.conn
	pump := s.pumpStarted
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if pump {
		<-s.done
	} else {
		s.shutdown(nil)
	}
	s.log.Debug("stream closed", "from", prev.String())
	return nil
}

func (s *Stream) readPump() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			clean := s.state == StateClosing || s.state == StateClosed ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			if clean && s.state != StateErrored {
				s.state = StateClosed
			}
			s.mu.Unlock()
			if clean {
				// covers the peer-initiated close, where nobody else
				// holds the conn to close it
				s.conn.Close()
				s.shutdown(nil)
			} else {
				s.fail(connectionError(fmt.Errorf("read: %w", err)))
			}
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.fail(protocolError(fmt.Errorf("malformed message: %w", err)))
			return
		}

		switch msg.Type {
		case TypeTranscription:
			s.seq++
			s.deliver(Event{Fragment: &transcript.Fragment{
				Text:  msg.Text,
				Final: msg.IsFinal,
				Seq:   s.seq,
			}})
		case TypeStatus:
			s.log.Debug("stream status", "status", msg.Status)
			s.deliver(Event{Status: msg.Status})
		case TypeError:
			s.fail(serverError(errors.New(msg.Message)))
			return
		default:
			s.fail(protocolError(fmt.Errorf("unexpected message type %q", msg.Type)))
			return
		}
	}
}

// deliver passes an event to the consumer without blocking the pump. A
// lagging consumer loses interim text, which the reconciliation
// contract tolerates.
func (s *Stream) deliver(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event dropped, consumer lagging")
	}
}

// fail moves the stream to the absorbing errored state. Pump-only,
// apart from terminate.
func (s *Stream) fail(terr *Error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateErrored {
		s.mu.Unlock()
		s.shutdown(nil)
		return
	}
	s.state = StateErrored
	s.err = terr
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.log.Error("stream failed", "kind", terr.Kind.String(), "error", terr.Err)
	s.shutdown(&Event{Err: terr})
}

// terminate is the pre-pump failure path (dial or start-control
// errors).
func (s *Stream) terminate(terr *Error) {
	s.mu.Lock()
	s.state = StateErrored
	s.err = terr
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.log.Error("stream failed", "kind", terr.Kind.String(), "error", terr.Err)
	s.shutdown(&Event{Err: terr})
}

// shutdown delivers an optional terminal event and closes the events
// channel, exactly once.
func (s *Stream) shutdown(ev *Event) {
	s.doneOnce.Do(func() {
		if ev != nil {
			s.deliver(*ev)
		}
		close(s.events)
		close(s.done)
	})
}

func (s *Stream) writeJSON(msg ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
