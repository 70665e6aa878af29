package capture

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestReaderDeviceChunksUntilEOF(t *testing.T) {
	pcm := make([]byte, 1000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	// 8kHz mono at 50ms per chunk = 800 bytes per block
	dev := NewReaderDevice(bytes.NewReader(pcm), 8000, 1)

	st, err := dev.Acquire(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	chunks := collect(t, st)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0].Data) != 800 || len(chunks[1].Data) != 200 {
		t.Errorf("chunk sizes = %d, %d; want 800, 200", len(chunks[0].Data), len(chunks[1].Data))
	}
	if chunks[0].Seq != 1 || chunks[1].Seq != 2 {
		t.Errorf("sequence numbers = %d, %d; want 1, 2", chunks[0].Seq, chunks[1].Seq)
	}
	var joined []byte
	for _, ch := range chunks {
		joined = append(joined, ch.Data...)
	}
	if !bytes.Equal(joined, pcm) {
		t.Error("concatenated chunks differ from source PCM")
	}
	if err := st.Err(); err != nil {
		t.Errorf("stream err = %v at EOF", err)
	}
}

func TestReaderDeviceExclusive(t *testing.T) {
	dev := NewReaderDevice(bytes.NewReader(make([]byte, 10000)), 8000, 1)
	st, err := dev.Acquire(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := dev.Acquire(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second acquire = %v, want ErrDeviceBusy", err)
	}
	st.Close()
	collect(t, st)
	if _, err := dev.Acquire(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("acquire after release = %v, want ErrDeviceUnavailable", err)
	}
}

// zeroReader never ends, standing in for a live feed.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestReaderDeviceCloseStopsLiveFeed(t *testing.T) {
	dev := NewReaderDevice(zeroReader{}, 8000, 1)
	st, err := dev.Acquire(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan struct{})
	go func() {
		collect(t, st)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("chunk channel did not close after Close")
	}
}
