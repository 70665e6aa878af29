// Package recording retains the audio of a dictation session: the
// chunk concatenation, WAV artifacts, and replay over a sink.
package recording

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recording accumulates PCM chunks in capture order. Safe for
// concurrent use: the session loop appends while the API reads.
type Recording struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	pcm        []byte
	chunks     int
}

func New(sampleRate, channels int) *Recording {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	if channels <= 0 {
		channels = 1
	}
	return &Recording{sampleRate: sampleRate, channels: channels}
}

// Append adds one captured chunk.
func (r *Recording) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	r.pcm = append(r.pcm, data...)
	r.chunks++
	r.mu.Unlock()
}

// Bytes returns a copy of the full concatenation.
func (r *Recording) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.pcm))
	copy(out, r.pcm)
	return out
}

// Len is the recorded byte count.
func (r *Recording) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pcm)
}

// Chunks is the number of appended chunks.
func (r *Recording) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks
}

// Empty reports whether anything was recorded.
func (r *Recording) Empty() bool { return r.Len() == 0 }

func (r *Recording) SampleRate() int { return r.sampleRate }
func (r *Recording) Channels() int   { return r.channels }

// Duration of the recorded audio.
func (r *Recording) Duration() time.Duration {
	samples := r.Len() / 2 / r.channels
	return time.Duration(samples) * time.Second / time.Duration(r.sampleRate)
}

// SaveWAV writes the recording as a 16-bit PCM WAV file.
func (r *Recording) SaveWAV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	pcm := r.Bytes()
	enc := wav.NewEncoder(f, r.sampleRate, 16, r.channels, 1)
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: r.channels, SampleRate: r.sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}
