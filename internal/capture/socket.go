package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/CyCoreSystems/audiosocket"
)

// SocketDevice adapts one accepted AudioSocket connection into a
// capture device. The connection is the exclusive input handle: it
// serves exactly one acquire, and closing the stream closes it.
type SocketDevice struct {
	conn net.Conn
	log  *slog.Logger

	mu       sync.Mutex
	acquired bool
	spent    bool
}

// NewSocketDevice wraps an accepted connection. The caller must have
// consumed the AudioSocket ID message already.
func NewSocketDevice(conn net.Conn, logger *slog.Logger) *SocketDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketDevice{conn: conn, log: logger.With("component", "capture")}
}

func (d *SocketDevice) Acquire(ctx context.Context, interval time.Duration) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquired {
		return nil, ErrDeviceBusy
	}
	if d.spent || d.conn == nil {
		return nil, ErrDeviceUnavailable
	}
	if interval <= 0 {
		interval = StreamingInterval
	}
	d.acquired = true

	s := &socketStream{
		dev:        d,
		conn:       d.conn,
		log:        d.log,
		chunks:     make(chan Chunk, 8),
		stop:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go s.readLoop()
	go s.tickLoop(interval)
	return s, nil
}

// release marks the device spent; a socket feed cannot be rewound.
func (d *SocketDevice) release() {
	d.mu.Lock()
	d.acquired = false
	d.spent = true
	d.mu.Unlock()
}

type socketStream struct {
	dev  *SocketDevice
	conn net.Conn
	log  *slog.Logger

	chunks     chan Chunk
	stop       chan struct{}
	readerDone chan struct{}

	bufMu sync.Mutex
	buf   []byte

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func (s *socketStream) Chunks() <-chan Chunk { return s.chunks }

func (s *socketStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *socketStream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// readLoop pumps AudioSocket messages into the chunk buffer until
// hangup, error, or Close.
func (s *socketStream) readLoop() {
	defer close(s.readerDone)
	for {
		msg, err := audiosocket.NextMessage(s.conn)
		if err != nil {
			select {
			case <-s.stop:
				// released; the read error is ours
			default:
				if err != io.EOF {
					s.setErr(fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
				}
			}
			return
		}

		switch msg.Kind() {
		case audiosocket.KindSlin:
			if payload := msg.Payload(); len(payload) > 0 {
				s.bufMu.Lock()
				s.buf = append(s.buf, payload...)
				s.bufMu.Unlock()
			}
		case audiosocket.KindHangup:
			s.log.Debug("feed hung up")
			return
		case audiosocket.KindError:
			s.setErr(fmt.Errorf("%w: audiosocket error code %d", ErrDeviceUnavailable, msg.ErrorCode()))
			return
		case audiosocket.KindDTMF:
			if p := msg.Payload(); len(p) > 0 {
				s.log.Debug("dtmf ignored", "digit", string(p[0]))
			}
		case audiosocket.KindSilence:
			// nothing buffered for silence frames
		}
	}
}

// tickLoop flushes the buffer as one chunk per interval and owns the
// chunks channel. Sends block: the consumer contract is to drain
// Chunks until it closes.
func (s *socketStream) tickLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	flush := func(tm time.Time) {
		s.bufMu.Lock()
		data := s.buf
		s.buf = nil
		s.bufMu.Unlock()
		if len(data) == 0 {
			return
		}
		seq++
		s.chunks <- Chunk{Data: data, Seq: seq, Time: tm}
	}

	for {
		select {
		case tm := <-ticker.C:
			flush(tm)
		case <-s.readerDone:
			flush(time.Now())
			s.dev.release()
			close(s.chunks)
			return
		case <-s.stop:
			flush(time.Now())
			s.dev.release()
			close(s.chunks)
			return
		}
	}
}

// Close releases the connection handle and ends the stream.
func (s *socketStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.conn.Close()
		<-s.readerDone
	})
	return nil
}
