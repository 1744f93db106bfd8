// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Microsoft Edge
// read-aloud, or a local Piper instance) and presents a uniform streaming
// interface: Synthesize accepts one text chunk and returns a channel of
// encoded audio bytes as they become available, enabling low-latency
// pipelining between the reasoning loop and the playback path.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/voxtail/voxtail/pkg/types"
)

// Format identifies the encoding of the audio bytes a provider emits.
type Format string

const (
	// FormatMP3 is MPEG layer III audio; callers must decode before mixing.
	FormatMP3 Format = "mp3"

	// FormatPCM16 is raw signed 16-bit little-endian PCM.
	FormatPCM16 Format = "pcm16"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple synthesis
// requests may run in parallel across sessions.
type Provider interface {
	// Synthesize renders one text chunk with the given voice and returns a
	// channel emitting encoded audio byte slices as they arrive.
	//
	// The channel is closed by the implementation when synthesis completes or
	// ctx is cancelled; the caller must drain it to avoid goroutine leaks.
	// Returns a non-nil error only if synthesis cannot be started. Errors
	// after that are signalled by closing the channel early; callers check
	// ctx.Err() to distinguish cancellation.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error)

	// Format reports the encoding of the emitted audio.
	Format() Format
}
