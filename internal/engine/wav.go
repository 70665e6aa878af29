package engine

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// tempWAV writes the recording to a temporary WAV file for engines
// that expect a file or an asset upload. The caller removes it via
// cleanup.
func tempWAV(a Audio) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "dictated-*.wav")
	if err != nil {
		return "", nil, fmt.Errorf("create temp wav: %w", err)
	}
	cleanup = func() { os.Remove(f.Name()) }
	if err := encodeWAV(f, a); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp wav: %w", err)
	}
	return f.Name(), cleanup, nil
}

// DecodeWAV reads a WAV stream back into raw PCM. Samples are
// truncated to 16-bit little-endian regardless of the source depth.
func DecodeWAV(r io.ReadSeeker) (Audio, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Audio{}, fmt.Errorf("decode wav: not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Audio{}, fmt.Errorf("decode wav: %w", err)
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return Audio{
		PCM:        pcm,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

func encodeWAV(f *os.File, a Audio) error {
	rate := a.SampleRate
	if rate <= 0 {
		rate = 8000
	}
	channels := a.Channels
	if channels <= 0 {
		channels = 1
	}

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	samples := make([]int, len(a.PCM)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(a.PCM[i*2:])))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}
