// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify
// which text and VoiceProfile reached the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	}
//	ch, _ := p.Synthesize(ctx, "Hello.", voice)
package mock

import (
	"context"
	"sync"

	"github.com/voxtail/voxtail/pkg/provider/tts"
	"github.com/voxtail/voxtail/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the chunk passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of audio byte slices emitted on every channel
	// returned by Synthesize.
	Chunks [][]byte

	// Err, if non-nil, is returned as the error from Synthesize instead of
	// starting a channel.
	Err error

	// Hold, if set, delays emission of chunks until the channel is closed or
	// the caller's context is done. Use it to test chunk timeouts and
	// cancellation mid-synthesis.
	Hold chan struct{}

	// AudioFormat is reported by Format. Defaults to FormatPCM16 so tests can
	// bypass decoding.
	AudioFormat tts.Format

	calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns a channel that emits Chunks then
// closes.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Text: text, Voice: voice})
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	hold := p.Hold
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return
			}
		}
		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

// Format returns AudioFormat, defaulting to FormatPCM16.
func (p *Provider) Format() tts.Format {
	if p.AudioFormat == "" {
		return tts.FormatPCM16
	}
	return p.AudioFormat
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}
