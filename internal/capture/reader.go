package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ReaderDevice chunks raw PCM from an io.Reader at the capture
// cadence. Used for file feeds and tests; like a socket feed it serves
// one acquire.
type ReaderDevice struct {
	r          io.Reader
	sampleRate int
	channels   int

	mu       sync.Mutex
	acquired bool
	spent    bool
}

// NewReaderDevice wraps r, which must produce 16-bit little-endian PCM
// at the given rate.
func NewReaderDevice(r io.Reader, sampleRate, channels int) *ReaderDevice {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	if channels <= 0 {
		channels = 1
	}
	return &ReaderDevice{r: r, sampleRate: sampleRate, channels: channels}
}

func (d *ReaderDevice) Acquire(ctx context.Context, interval time.Duration) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquired {
		return nil, ErrDeviceBusy
	}
	if d.spent || d.r == nil {
		return nil, ErrDeviceUnavailable
	}
	if interval <= 0 {
		interval = StreamingInterval
	}
	d.acquired = true

	// bytes of PCM covering one interval
	blockSize := int(float64(d.sampleRate*d.channels*2) * interval.Seconds())
	if blockSize <= 0 {
		blockSize = 2
	}

	s := &readerStream{
		dev:    d,
		chunks: make(chan Chunk, 8),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(d.r, interval, blockSize)
	return s, nil
}

func (d *ReaderDevice) release() {
	d.mu.Lock()
	d.acquired = false
	d.spent = true
	d.mu.Unlock()
}

type readerStream struct {
	dev    *ReaderDevice
	chunks chan Chunk
	stop   chan struct{}
	done   chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func (s *readerStream) Chunks() <-chan Chunk { return s.chunks }

func (s *readerStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *readerStream) run(r io.Reader, interval time.Duration, blockSize int) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case tm := <-ticker.C:
			block := make([]byte, blockSize)
			n, err := io.ReadFull(r, block)
			if n > 0 {
				seq++
				select {
				case s.chunks <- Chunk{Data: block[:n], Seq: seq, Time: tm}:
				case <-s.stop:
					s.finish()
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					s.errMu.Lock()
					s.err = err
					s.errMu.Unlock()
				}
				s.finish()
				return
			}
		case <-s.stop:
			s.finish()
			return
		}
	}
}

func (s *readerStream) finish() {
	s.dev.release()
	close(s.chunks)
}

func (s *readerStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}
