// Package asr defines the Recognizer interface for speech-to-text backends.
//
// A recognizer turns one complete [types.Utterance] into one final
// [types.Transcript]. Recognition is blocking, compute-bound work — callers
// run it on a dedicated goroutine per session, and implementations gate their
// own process-wide concurrency so a single shared model instance serves all
// sessions safely.
//
// Implementations must be safe for concurrent use.
package asr

import (
	"context"

	"github.com/voxtail/voxtail/pkg/types"
)

// Recognizer is the abstraction over any speech-to-text backend.
type Recognizer interface {
	// Recognize transcribes one utterance and returns the final transcript,
	// including the detected language and an overall confidence score.
	//
	// Recognize may block for the duration of inference; it must observe ctx
	// and return ctx.Err() promptly on cancellation. A failed recognition
	// returns a non-nil error and a zero Transcript — callers surface the
	// failure to the client and drop the utterance, they do not retry.
	Recognize(ctx context.Context, u types.Utterance) (types.Transcript, error)
}
