// Package mock provides a scripted test double for the vad interfaces.
//
// The detector returns verdicts from a pre-programmed script, one per Detect
// call, repeating the final verdict once the script is exhausted. Tests drive
// the segmenter state machine with exact speech/silence sequences this way.
package mock

import (
	"sync"

	"github.com/voxtail/voxtail/pkg/provider/vad"
)

// Engine creates scripted detectors. Every detector created by the same
// Engine shares the Script configured on it at creation time.
type Engine struct {
	// Script is the verdict sequence handed to each new detector.
	Script []bool

	// Err, if non-nil, is returned from NewDetector.
	Err error

	mu      sync.Mutex
	created int
}

var _ vad.Engine = (*Engine)(nil)

// NewDetector implements vad.Engine.
func (e *Engine) NewDetector(vad.Config) (vad.Detector, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	e.mu.Lock()
	e.created++
	e.mu.Unlock()

	script := make([]bool, len(e.Script))
	copy(script, e.Script)
	return &Detector{script: script}, nil
}

// Created returns how many detectors this engine has produced.
func (e *Engine) Created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created
}

// Detector replays a scripted verdict sequence.
type Detector struct {
	script []bool
	pos    int
	resets int
}

var _ vad.Detector = (*Detector)(nil)

// Detect implements vad.Detector. Past the end of the script the final
// verdict repeats; an empty script always reports silence.
func (d *Detector) Detect([]float32) bool {
	if len(d.script) == 0 {
		return false
	}
	if d.pos >= len(d.script) {
		return d.script[len(d.script)-1]
	}
	v := d.script[d.pos]
	d.pos++
	return v
}

// Reset implements vad.Detector and rewinds the script.
func (d *Detector) Reset() {
	d.pos = 0
	d.resets++
}

// Resets returns how many times Reset was called.
func (d *Detector) Resets() int { return d.resets }
