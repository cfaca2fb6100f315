package tts

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no synthesis endpoint is set.
var ErrNotConfigured = errors.New("CUSTOM_TTS_ENDPOINT is not set")

// Request describes one utterance to synthesize.
type Request struct {
	Text       string
	VoiceID    string // optional per-request voice override
	Format     string // requested output format, e.g. pcm_s16le
	SampleRate int    // requested sample rate in Hz
}

// Result is synthesized audio ready for the control channel.
type Result struct {
	AudioBase64 string
	SampleRate  int
	Format      string
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Synthesize returns the whole utterance as base64 audio.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// Provider names the backend for logs and metrics.
	Provider() string
}
