// Package stt defines the Provider interface for streaming speech recognition
// backends.
//
// A provider wraps a real-time recognizer (Azure Speech, Deepgram or a local
// Whisper server) behind one streaming shape. Once opened, a SessionHandle
// accepts raw PCM frames and emits two streams of Transcript values: partial
// hypotheses that may still be revised, and final phrases the recognizer has
// committed to. The read-along session treats both the same way; the split
// exists so metrics and logs can tell them apart.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open at the same time, one per connected reader.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed is returned by SendAudio after the session has ended.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition tuning for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The read-along client always
	// sends 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	Language string

	// SegmentationSilence is how much trailing silence ends a phrase. Zero
	// leaves the provider default in place.
	SegmentationSilence time.Duration

	// InitialSilence is how long the recognizer waits for speech to begin
	// before giving up on the current phrase. Zero leaves the provider
	// default in place.
	InitialSilence time.Duration

	// Keywords are phrase hints that raise the recognition probability of the
	// passage's words. Providers without hint support ignore them.
	Keywords []KeywordBoost
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM. It must not
	// block on recognition. After the session has ended it returns
	// ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials returns the channel of interim hypotheses. It is closed when
	// the session ends.
	Partials() <-chan Transcript

	// Finals returns the channel of committed phrases. It is closed when the
	// session ends.
	Finals() <-chan Transcript

	// Err reports why the session ended on its own. It returns nil while the
	// session is running and after a session that was ended by Close.
	Err() error

	// Close terminates the session and releases its resources. After Close
	// returns, Partials and Finals are closed. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming recognizer.
type Provider interface {
	// StartStream opens a new streaming session. It returns an error when the
	// session cannot be established (bad credentials, unreachable service or
	// ctx already cancelled). The caller owns the returned handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
