// Package engine provides batch transcription backends: remote batch
// endpoints, the OpenAI audio API, and local recognizer commands.
package engine

import (
	"context"
	"time"
)

// Audio is a complete recording handed to a batch engine.
type Audio struct {
	PCM        []byte // 16-bit little-endian samples
	SampleRate int
	Channels   int
}

// Duration of the recording.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	samples := len(a.PCM) / 2 / a.Channels
	return time.Duration(samples) * time.Second / time.Duration(a.SampleRate)
}

// Result of one batch transcription pass.
type Result struct {
	Text     string `json:"text"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// Batch transcribes a complete recording in a single pass.
type Batch interface {
	Name() string
	Transcribe(ctx context.Context, audio Audio) (Result, error)
}
