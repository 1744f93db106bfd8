// Package vad defines the interfaces for Voice Activity Detection backends.
//
// A VAD engine produces per-stream detectors. Each [Detector] is consulted
// once per audio frame by the segmenter and returns a boolean speech/silence
// verdict; the decision threshold is a property of the detector, not of the
// caller. Detectors are stateful (smoothing history, noise floor tracking) and
// belong to exactly one session.
//
// VAD is synchronous by design: Detect returns immediately, making it suitable
// for the low-latency pipeline stage that gates utterance segmentation.
//
// Engines must be safe for concurrent use — multiple sessions create detectors
// in parallel. A single Detector must not be shared across goroutines.
package vad

import "fmt"

// Config holds the parameters for one detector instance.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to Detect. 16000 for the inbound leg.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Most
	// detectors operate on fixed frame sizes (10, 20, or 30 ms).
	FrameSizeMs int

	// Threshold is the speech probability (or normalized energy) above which a
	// frame is classified as speech. Range [0, 1]. Typical: 0.5.
	Threshold float64
}

// Validate reports the first problem with cfg, or nil.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate %d must be positive", c.SampleRate)
	}
	if c.FrameSizeMs <= 0 {
		return fmt.Errorf("vad: frame size %d ms must be positive", c.FrameSizeMs)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("vad: threshold %.2f is out of range [0, 1]", c.Threshold)
	}
	return nil
}

// Detector classifies audio frames as speech or silence for a single stream.
// Not safe for concurrent use; each session owns its own detector.
type Detector interface {
	// Detect returns true when frame contains speech. The frame is normalized
	// float32 mono PCM matching the Config the detector was created with.
	Detect(frame []float32) bool

	// Reset clears accumulated state (smoothing history, adaptive noise
	// floor) without discarding the detector. Use when the audio stream is
	// restarted so stale state does not leak into the next segment.
	Reset()
}

// Engine is the factory for detectors, implemented by each VAD backend.
// Safe for concurrent use.
type Engine interface {
	// NewDetector creates a detector for one audio stream. Returns an error
	// when cfg is invalid or the backend cannot allocate detector state.
	NewDetector(cfg Config) (Detector, error)
}
