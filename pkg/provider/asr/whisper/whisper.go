// Package whisper implements asr.Recognizer with the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// The model is loaded once and shared across all sessions. Each Recognize
// call creates its own whisper context — contexts are not thread-safe but the
// model is — and a process-wide weighted semaphore caps how many inferences
// run at once, so a flood of sessions cannot oversubscribe the CPU.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/voxtail/voxtail/pkg/provider/asr"
	"github.com/voxtail/voxtail/pkg/types"
)

// LanguageAuto enables whisper's built-in language detection.
const LanguageAuto = "auto"

// ModelSizes lists the ggml model sizes this adapter knows how to resolve.
var ModelSizes = []string{"tiny", "base", "small", "medium", "large"}

// Compile-time assertion that Recognizer satisfies asr.Recognizer.
var _ asr.Recognizer = (*Recognizer)(nil)

// Recognizer runs whisper.cpp inference over a single shared model.
type Recognizer struct {
	model    whisperlib.Model
	language string
	workers  *semaphore.Weighted
}

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer) error

// WithLanguage forces the recognition language ("zh", "en", ...) or enables
// detection with [LanguageAuto]. Default is auto.
func WithLanguage(lang string) Option {
	return func(r *Recognizer) error {
		if lang == "" {
			return errors.New("whisper: language must not be empty")
		}
		r.language = lang
		return nil
	}
}

// WithWorkers caps concurrent inference process-wide.
// Default is min(NumCPU, 4).
func WithWorkers(n int) Option {
	return func(r *Recognizer) error {
		if n <= 0 {
			return fmt.Errorf("whisper: workers %d must be positive", n)
		}
		r.workers = semaphore.NewWeighted(int64(n))
		return nil
	}
}

// New loads the ggml model for the given size from modelDir and returns a
// ready Recognizer. The caller must Close it when done.
func New(modelDir, size string, opts ...Option) (*Recognizer, error) {
	path, err := ModelPath(modelDir, size)
	if err != nil {
		return nil, err
	}
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}

	r := &Recognizer{
		model:    model,
		language: LanguageAuto,
		workers:  semaphore.NewWeighted(int64(defaultWorkers())),
	}
	for _, o := range opts {
		if err := o(r); err != nil {
			model.Close()
			return nil, err
		}
	}
	return r, nil
}

// Close releases the shared whisper model.
func (r *Recognizer) Close() error {
	if r.model != nil {
		return r.model.Close()
	}
	return nil
}

// Recognize implements asr.Recognizer. It waits for an inference slot, runs
// whisper over the utterance samples, and reports the concatenated segment
// text plus the detected language and mean token probability.
func (r *Recognizer) Recognize(ctx context.Context, u types.Utterance) (types.Transcript, error) {
	if len(u.Samples) == 0 {
		return types.Transcript{}, errors.New("whisper: empty utterance")
	}
	if err := r.workers.Acquire(ctx, 1); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: acquire worker: %w", err)
	}
	defer r.workers.Release(1)

	// Contexts are cheap relative to inference and are not safe to share.
	wctx, err := r.model.NewContext()
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: set language %q: %w", r.language, err)
	}

	if err := wctx.Process(u.Samples, nil, nil, nil); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts      []string
		probSum    float64
		tokenCount int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			probSum += float64(tok.P)
			tokenCount++
		}
	}

	confidence := 0.0
	if tokenCount > 0 {
		confidence = probSum / float64(tokenCount)
	}

	return types.Transcript{
		Text:       strings.Join(parts, " "),
		Language:   detectedLanguage(wctx.Language(), r.language),
		Confidence: confidence,
		IsFinal:    true,
	}, nil
}

// ModelPath resolves the ggml model file for a size under dir.
func ModelPath(dir, size string) (string, error) {
	if dir == "" {
		return "", errors.New("whisper: model dir must not be empty")
	}
	valid := false
	for _, s := range ModelSizes {
		if s == size {
			valid = true
			break
		}
	}
	if !valid {
		return "", fmt.Errorf("whisper: unknown model size %q; valid sizes: %s", size, strings.Join(ModelSizes, ", "))
	}
	return filepath.Join(dir, "ggml-"+size+".bin"), nil
}

// detectedLanguage maps whisper's reported language to a types.Language.
// When recognition was forced to a fixed language, that language wins.
func detectedLanguage(reported, configured string) types.Language {
	if configured != LanguageAuto {
		return types.ParseLanguage(configured)
	}
	return types.ParseLanguage(reported)
}

// defaultWorkers returns min(NumCPU, 4).
func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}
