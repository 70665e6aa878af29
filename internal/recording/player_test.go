package recording

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSink records requests and lets the test confirm transitions by
// hand, so the state machine can be observed between request and
// confirmation.
type fakeSink struct {
	mu      sync.Mutex
	plays   int
	pauses  int
	resumes int
	stops   int
	ev      Events
}

func (f *fakeSink) Play(pcm []byte, sampleRate, channels int, ev Events) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	f.ev = ev
	return nil
}

func (f *fakeSink) Pause() error  { f.mu.Lock(); f.pauses++; f.mu.Unlock(); return nil }
func (f *fakeSink) Resume() error { f.mu.Lock(); f.resumes++; f.mu.Unlock(); return nil }
func (f *fakeSink) Stop() error   { f.mu.Lock(); f.stops++; f.mu.Unlock(); return nil }

func (f *fakeSink) events() Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ev
}

func assetWith(t *testing.T, n int) *Recording {
	t.Helper()
	rec := New(8000, 1)
	rec.Append(tonePCM(n))
	return rec
}

func TestPlayerStateChangesOnlyOnConfirmation(t *testing.T) {
	sink := &fakeSink{}
	p := NewPlayer(sink, testLogger())
	p.SetAsset(assetWith(t, 100))

	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := p.State(); got != StateIdle {
		t.Fatalf("state after Play request = %v, want idle until the sink confirms", got)
	}

	sink.events().Started()
	if got := p.State(); got != StatePlaying {
		t.Fatalf("state after Started = %v, want playing", got)
	}

	if err := p.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := p.State(); got != StatePlaying {
		t.Fatalf("state after Pause request = %v, want playing until confirmed", got)
	}

	sink.events().Paused()
	if got := p.State(); got != StatePaused {
		t.Fatalf("state after Paused = %v, want paused", got)
	}

	if err := p.Play(); err != nil {
		t.Fatalf("Play (resume): %v", err)
	}
	if sink.resumes != 1 {
		t.Fatalf("resumes = %d, want 1 (paused Play must resume, not restart)", sink.resumes)
	}
	sink.events().Resumed()
	if got := p.State(); got != StatePlaying {
		t.Fatalf("state after Resumed = %v, want playing", got)
	}

	sink.events().Ended()
	if got := p.State(); got != StateIdle {
		t.Fatalf("state after Ended = %v, want idle", got)
	}
	if sink.plays != 1 {
		t.Fatalf("plays = %d, want 1", sink.plays)
	}
}

func TestPlayerWithoutAsset(t *testing.T) {
	p := NewPlayer(&fakeSink{}, testLogger())
	if err := p.Play(); !errors.Is(err, ErrNoAsset) {
		t.Fatalf("Play with no asset = %v, want ErrNoAsset", err)
	}
	if err := p.Download(filepath.Join(t.TempDir(), "x.wav")); !errors.Is(err, ErrNoAsset) {
		t.Fatalf("Download with no asset = %v, want ErrNoAsset", err)
	}
}

func TestPlayerToggle(t *testing.T) {
	sink := &fakeSink{}
	p := NewPlayer(sink, testLogger())
	p.SetAsset(assetWith(t, 100))

	if err := p.Toggle(); err != nil {
		t.Fatalf("Toggle (idle): %v", err)
	}
	if sink.plays != 1 {
		t.Fatalf("plays = %d, want 1", sink.plays)
	}
	sink.events().Started()

	if err := p.Toggle(); err != nil {
		t.Fatalf("Toggle (playing): %v", err)
	}
	if sink.pauses != 1 {
		t.Fatalf("pauses = %d, want 1", sink.pauses)
	}
}

func TestPlayerWhilePlayingIsNoOp(t *testing.T) {
	sink := &fakeSink{}
	p := NewPlayer(sink, testLogger())
	p.SetAsset(assetWith(t, 100))

	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	sink.events().Started()
	if err := p.Play(); err != nil {
		t.Fatalf("Play while playing: %v", err)
	}
	if sink.plays != 1 || sink.resumes != 0 {
		t.Fatalf("plays = %d resumes = %d, want 1 and 0", sink.plays, sink.resumes)
	}
}

func TestPlayerFailureReturnsToIdle(t *testing.T) {
	sink := &fakeSink{}
	p := NewPlayer(sink, testLogger())
	p.SetAsset(assetWith(t, 100))

	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	sink.events().Started()
	sink.events().Failed(errors.New("device gone"))
	if got := p.State(); got != StateIdle {
		t.Fatalf("state after Failed = %v, want idle", got)
	}
	if p.Asset() == nil {
		t.Fatal("asset dropped after playback failure")
	}
}

func TestPlayerSetAssetStopsPlayback(t *testing.T) {
	sink := &fakeSink{}
	p := NewPlayer(sink, testLogger())
	p.SetAsset(assetWith(t, 100))

	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	sink.events().Started()

	next := assetWith(t, 200)
	p.SetAsset(next)
	if sink.stops != 1 {
		t.Fatalf("stops = %d, want 1 (asset replacement stops playback)", sink.stops)
	}
	if p.Asset() != next {
		t.Fatal("asset was not replaced")
	}
}

func TestPlayerOnStateChange(t *testing.T) {
	sink := &fakeSink{}
	p := NewPlayer(sink, testLogger())
	p.SetAsset(assetWith(t, 100))

	var mu sync.Mutex
	var seen []State
	p.OnStateChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	p.Play()
	sink.events().Started()
	p.Pause()
	sink.events().Paused()
	sink.events().Ended()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StatePlaying, StatePaused, StateIdle}
	if len(seen) != len(want) {
		t.Fatalf("observed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("observed %v, want %v", seen, want)
		}
	}
}

func TestPlayerDownload(t *testing.T) {
	p := NewPlayer(&fakeSink{}, testLogger())
	p.SetAsset(assetWith(t, 400))

	path := filepath.Join(t.TempDir(), "dictation.wav")
	if err := p.Download(path); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) < 44 || string(data[:4]) != "RIFF" {
		t.Fatalf("downloaded file is not a WAV (%d bytes)", len(data))
	}
}
