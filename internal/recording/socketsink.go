package recording

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/CyCoreSystems/audiosocket"
)

// slinFrameInterval is the wall-clock pacing of outbound audio frames.
const slinFrameInterval = 20 * time.Millisecond

// SocketSink plays PCM back over an AudioSocket connection, one signed
// linear frame every 20ms. One playback at a time.
type SocketSink struct {
	conn net.Conn
	log  *slog.Logger

	mu  sync.Mutex
	run *sinkRun
}

type sinkRun struct {
	pause    chan struct{}
	resume   chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewSocketSink(conn net.Conn, logger *slog.Logger) *SocketSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketSink{conn: conn, log: logger.With("component", "socket_sink")}
}

func (s *SocketSink) Play(pcm []byte, sampleRate, channels int, ev Events) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		select {
		case <-s.run.done:
		default:
			return errors.New("sink busy")
		}
	}

	chunk := audiosocket.DefaultSlinChunkSize
	if sampleRate != 8000 || channels != 1 {
		chunk = sampleRate * channels * 2 / 50
	}

	run := &sinkRun{
		pause:  make(chan struct{}, 1),
		resume: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.run = run
	go s.play(run, pcm, chunk, ev)
	return nil
}

func (s *SocketSink) Pause() error {
	if run := s.active(); run != nil {
		select {
		case run.pause <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *SocketSink) Resume() error {
	if run := s.active(); run != nil {
		select {
		case run.resume <- struct{}{}:
		default:
		}
	}
	return nil
}

// Stop halts the current playback and waits for its goroutine to
// finish. Idempotent.
func (s *SocketSink) Stop() error {
	run := s.active()
	if run == nil {
		return nil
	}
	run.stopOnce.Do(func() { close(run.stop) })
	<-run.done
	return nil
}

func (s *SocketSink) active() *sinkRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	select {
	case <-s.run.done:
		return nil
	default:
		return s.run
	}
}

func (s *SocketSink) play(run *sinkRun, pcm []byte, chunk int, ev Events) {
	defer close(run.done)

	ev.Started()
	for off := 0; off < len(pcm); off += chunk {
		select {
		case <-run.stop:
			ev.Ended()
			return
		case <-run.pause:
			ev.Paused()
			select {
			case <-run.resume:
				ev.Resumed()
			case <-run.stop:
				ev.Ended()
				return
			}
		default:
		}

		end := off + chunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := s.conn.Write(audiosocket.SlinMessage(pcm[off:end])); err != nil {
			ev.Failed(fmt.Errorf("write audio frame: %w", err))
			return
		}
		time.Sleep(slinFrameInterval)
	}
	ev.Ended()
}

var _ Sink = (*SocketSink)(nil)
