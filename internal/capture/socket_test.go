package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/CyCoreSystems/audiosocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, st Stream) []Chunk {
	t.Helper()
	var chunks []Chunk
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ch, ok := <-st.Chunks():
			if !ok {
				return chunks
			}
			chunks = append(chunks, ch)
		case <-deadline:
			t.Fatal("chunk channel never closed")
		}
	}
}

func TestSocketStreamChunksInCaptureOrder(t *testing.T) {
	local, remote := net.Pipe()
	dev := NewSocketDevice(local, testLogger())

	st, err := dev.Acquire(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	payload := make([]byte, 320)
	for i := range payload {
		payload[i] = byte(i)
	}
	go func() {
		for i := 0; i < 4; i++ {
			remote.Write(audiosocket.SlinMessage(payload))
			time.Sleep(20 * time.Millisecond)
		}
		remote.Write(audiosocket.HangupMessage())
	}()

	chunks := collect(t, st)
	if len(chunks) == 0 {
		t.Fatal("no chunks emitted")
	}
	total := 0
	for i, ch := range chunks {
		total += len(ch.Data)
		if ch.Seq != i+1 {
			t.Errorf("chunk %d has seq %d, want %d", i, ch.Seq, i+1)
		}
	}
	if want := 4 * len(payload); total != want {
		t.Errorf("captured %d bytes, want %d", total, want)
	}
	if err := st.Err(); err != nil {
		t.Errorf("stream err = %v after clean hangup", err)
	}
}

func TestSocketDeviceExclusive(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	dev := NewSocketDevice(local, testLogger())

	st, err := dev.Acquire(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := dev.Acquire(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second acquire = %v, want ErrDeviceBusy", err)
	}

	st.Close()
	collect(t, st)

	// a socket feed cannot be rewound after release
	if _, err := dev.Acquire(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("acquire after release = %v, want ErrDeviceUnavailable", err)
	}
}

func TestSocketStreamPeerDisconnect(t *testing.T) {
	local, remote := net.Pipe()
	dev := NewSocketDevice(local, testLogger())

	st, err := dev.Acquire(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	go func() {
		remote.Write(audiosocket.SlinMessage([]byte{1, 2, 3, 4}))
		remote.Close()
	}()

	chunks := collect(t, st)
	total := 0
	for _, ch := range chunks {
		total += len(ch.Data)
	}
	if total != 4 {
		t.Errorf("captured %d bytes, want 4", total)
	}
	if err := st.Err(); err != nil {
		t.Errorf("stream err = %v after peer EOF", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("close after end: %v", err)
	}
}

func TestSocketStreamCloseIsIdempotent(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	dev := NewSocketDevice(local, testLogger())

	st, err := dev.Acquire(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	done := make(chan struct{})
	go func() {
		collect(t, st)
		close(done)
	}()
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	<-done
}
