// Package energy implements an RMS-energy voice activity detector.
//
// The detector compares each frame's root-mean-square energy against a
// threshold derived from the configured probability, with an adaptive noise
// floor and a short hangover so that brief intra-word dips are not classified
// as silence. It needs no model assets, which makes it the default backend.
package energy

import (
	"math"

	"github.com/voxtail/voxtail/pkg/audio"
	"github.com/voxtail/voxtail/pkg/provider/vad"
)

const (
	// baseRMS maps threshold 0.5 to an absolute RMS of ~0.0125, a level that
	// separates near-field speech from room noise at normalized amplitude.
	baseRMS = 0.025

	// noiseAdaptRate is the exponential smoothing factor for the noise floor.
	noiseAdaptRate = 0.05

	// hangoverFrames keeps the verdict at speech for this many frames after
	// the energy drops, bridging plosive gaps inside words.
	hangoverFrames = 3
)

// Engine creates RMS-energy detectors. Safe for concurrent use; it holds no
// shared state.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// NewEngine returns the energy VAD engine.
func NewEngine() *Engine {
	return &Engine{}
}

// NewDetector implements vad.Engine.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &detector{
		threshold: cfg.Threshold,
	}, nil
}

// detector holds per-stream detection state. Owned by one goroutine.
type detector struct {
	threshold  float64
	noiseFloor float64
	hangover   int
}

var _ vad.Detector = (*detector)(nil)

// Detect implements vad.Detector. The effective threshold is the configured
// level lifted by the adaptive noise floor, so a noisy channel does not pin
// the verdict at speech.
func (d *detector) Detect(frame []float32) bool {
	rms := audio.RMS(frame)

	limit := baseRMS*2*d.threshold + d.noiseFloor
	speech := rms > limit

	if speech {
		d.hangover = hangoverFrames
		return true
	}

	// Only silence frames feed the noise floor estimate.
	d.noiseFloor = (1-noiseAdaptRate)*d.noiseFloor + noiseAdaptRate*rms
	d.noiseFloor = math.Min(d.noiseFloor, baseRMS)

	if d.hangover > 0 {
		d.hangover--
		return true
	}
	return false
}

// Reset implements vad.Detector.
func (d *detector) Reset() {
	d.noiseFloor = 0
	d.hangover = 0
}
