// Package capture abstracts exclusive audio input devices that emit
// chunked PCM on a fixed cadence.
package capture

import (
	"context"
	"errors"
	"time"
)

// Chunk cadence defaults. Streaming sessions chunk faster for
// responsiveness; batch sessions chunk slower to reduce overhead.
const (
	StreamingInterval = 500 * time.Millisecond
	BatchInterval     = time.Second
)

var (
	// ErrPermissionDenied means input access was refused. Fatal to the
	// session, surfaced without fallback.
	ErrPermissionDenied = errors.New("audio input permission denied")
	// ErrDeviceUnavailable means no usable input device exists.
	ErrDeviceUnavailable = errors.New("no audio input device available")
	// ErrDeviceBusy means the device's exclusive handle is already held.
	ErrDeviceBusy = errors.New("audio input device already acquired")
)

// Chunk is one opaque audio segment in capture order.
type Chunk struct {
	Data []byte
	Seq  int
	Time time.Time
}

// Stream emits chunks until the input ends or Close releases the
// handle. The chunks channel closes on either; Err distinguishes a
// device failure from a clean end. Consumers must keep draining
// Chunks until it closes, including after calling Close.
type Stream interface {
	Chunks() <-chan Chunk
	Err() error
	// Close releases the underlying input handle. Idempotent.
	Close() error
}

// Device is an exclusive audio input. Acquire hands the caller the
// sole handle; it must be released through Stream.Close before anyone
// can acquire again.
type Device interface {
	Acquire(ctx context.Context, interval time.Duration) (Stream, error)
}
