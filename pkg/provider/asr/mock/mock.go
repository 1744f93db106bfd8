// Package mock provides a test double for the asr.Recognizer interface.
//
// Transcripts are served from a scripted queue, one per Recognize call; once
// the queue is exhausted the final entry repeats. All invocations are recorded
// so tests can assert on the utterances the session handed to ASR.
package mock

import (
	"context"
	"sync"

	"github.com/voxtail/voxtail/pkg/provider/asr"
	"github.com/voxtail/voxtail/pkg/types"
)

// Call records a single invocation of Recognize.
type Call struct {
	// Utterance is the value passed to Recognize.
	Utterance types.Utterance
}

// Recognizer is a mock implementation of asr.Recognizer. Safe for concurrent
// use. Configure the response fields before handing it to a session.
type Recognizer struct {
	mu sync.Mutex

	// Transcripts is the scripted response queue.
	Transcripts []types.Transcript

	// Err, if non-nil, is returned from every Recognize call.
	Err error

	// Delay, if set, makes Recognize block until the context is done or the
	// delay channel is closed — used to test cancellation mid-inference.
	Delay chan struct{}

	calls []Call
	pos   int
}

var _ asr.Recognizer = (*Recognizer)(nil)

// Recognize implements asr.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, u types.Utterance) (types.Transcript, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Utterance: u})
	delay := r.Delay
	r.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return types.Transcript{}, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return types.Transcript{}, r.Err
	}
	if len(r.Transcripts) == 0 {
		return types.Transcript{IsFinal: true}, nil
	}
	tr := r.Transcripts[min(r.pos, len(r.Transcripts)-1)]
	r.pos++
	return tr, nil
}

// Calls returns a copy of all recorded invocations.
func (r *Recognizer) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}
