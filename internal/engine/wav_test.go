package engine

import (
	"bytes"
	"os"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	in := testAudio()
	path, cleanup, err := tempWAV(in)
	if err != nil {
		t.Fatalf("temp wav: %v", err)
	}
	defer cleanup()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer f.Close()

	out, err := DecodeWAV(f)
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if out.SampleRate != in.SampleRate || out.Channels != in.Channels {
		t.Errorf("format = %d Hz/%d ch, want %d Hz/%d ch",
			out.SampleRate, out.Channels, in.SampleRate, in.Channels)
	}
	if !bytes.Equal(out.PCM, in.PCM) {
		t.Errorf("pcm changed across encode/decode: %d bytes back, want %d", len(out.PCM), len(in.PCM))
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("definitely not riff data"))); err == nil {
		t.Fatal("expected error for non-wav input")
	}
}
