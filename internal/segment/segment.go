// Package segment groups audio frames into utterances using voice activity
// detection.
//
// The segmenter is a three-phase state machine. While idle it keeps a short
// pre-roll ring of recent frames. The first speech frame opens an utterance,
// fires the onset hook (the signal the session uses for barge-in), and
// prepends the ring so soft speech onsets are not clipped. Trailing silence
// beyond the configured minimum closes the utterance; a hard length cap
// force-splits run-on speech.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/voxtail/voxtail/pkg/provider/vad"
	"github.com/voxtail/voxtail/pkg/types"
)

// Config tunes segmentation.
type Config struct {
	// PreRollMs of audio kept before speech onset.
	PreRollMs int

	// MinSilenceMs of trailing silence that closes an utterance.
	MinSilenceMs int

	// MaxUtteranceMs is the hard cap on utterance length.
	MaxUtteranceMs int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.PreRollMs < 0 {
		errs = append(errs, fmt.Errorf("segment: pre-roll %dms must not be negative", c.PreRollMs))
	}
	if c.MinSilenceMs <= 0 {
		errs = append(errs, fmt.Errorf("segment: min silence %dms must be positive", c.MinSilenceMs))
	}
	if c.MaxUtteranceMs <= c.MinSilenceMs {
		errs = append(errs, fmt.Errorf("segment: max utterance %dms must exceed min silence %dms",
			c.MaxUtteranceMs, c.MinSilenceMs))
	}
	return errors.Join(errs...)
}

type state int

const (
	stateIdle state = iota
	stateActive
)

// Segmenter turns a frame stream into utterances.
//
// Push and Close must be called from a single goroutine. Utterances may be
// consumed from any goroutine.
type Segmenter struct {
	cfg     Config
	det     vad.Detector
	onOnset func()

	out chan types.Utterance

	state    state
	preRoll  []types.AudioFrame
	preRollD time.Duration

	cur        []float32
	curRate    int
	curStart   time.Duration
	curEnd     time.Duration
	curPreRoll time.Duration
	silence    time.Duration
}

// New creates a Segmenter. onOnset, if non-nil, is invoked synchronously on
// each idle-to-speech transition, before the opening frame is buffered.
func New(cfg Config, det vad.Detector, onOnset func()) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if det == nil {
		return nil, errors.New("segment: detector must not be nil")
	}
	return &Segmenter{
		cfg:     cfg,
		det:     det,
		onOnset: onOnset,
		out:     make(chan types.Utterance, 4),
	}, nil
}

// Utterances returns the output channel. It is closed by Close.
func (s *Segmenter) Utterances() <-chan types.Utterance {
	return s.out
}

// Push feeds one frame through the state machine. Sends on the utterance
// channel block when the consumer falls behind; upstream drop-oldest keeps
// the stream near real time.
func (s *Segmenter) Push(frame types.AudioFrame) {
	speech := s.det.Detect(frame.Samples)

	switch s.state {
	case stateIdle:
		if !speech {
			s.bufferPreRoll(frame)
			return
		}
		if s.onOnset != nil {
			s.onOnset()
		}
		s.open(frame)

	case stateActive:
		s.append(frame)
		if speech {
			s.silence = 0
		} else {
			s.silence += frame.Duration()
			if s.silence >= time.Duration(s.cfg.MinSilenceMs)*time.Millisecond {
				s.close()
				return
			}
		}
		if s.curEnd-s.curStart >= time.Duration(s.cfg.MaxUtteranceMs)*time.Millisecond {
			s.split(frame)
		}
	}
}

// Close flushes any open utterance and closes the output channel.
func (s *Segmenter) Close() {
	if s.state == stateActive && len(s.cur) > 0 {
		s.close()
	}
	close(s.out)
}

// bufferPreRoll keeps the ring at most PreRollMs long.
func (s *Segmenter) bufferPreRoll(frame types.AudioFrame) {
	s.preRoll = append(s.preRoll, frame)
	s.preRollD += frame.Duration()
	limit := time.Duration(s.cfg.PreRollMs) * time.Millisecond
	for s.preRollD > limit && len(s.preRoll) > 0 {
		s.preRollD -= s.preRoll[0].Duration()
		s.preRoll = s.preRoll[1:]
	}
}

// open starts an utterance from the pre-roll ring plus the opening frame. The
// ring is cleared so a later utterance cannot pick up stale audio.
func (s *Segmenter) open(frame types.AudioFrame) {
	s.state = stateActive
	s.cur = nil
	s.silence = 0
	s.curPreRoll = s.preRollD

	if len(s.preRoll) > 0 {
		s.curStart = s.preRoll[0].Start
		for _, pf := range s.preRoll {
			s.cur = append(s.cur, pf.Samples...)
		}
	} else {
		s.curStart = frame.Start
	}
	s.preRoll = nil
	s.preRollD = 0
	s.append(frame)
}

func (s *Segmenter) append(frame types.AudioFrame) {
	s.cur = append(s.cur, frame.Samples...)
	s.curRate = frame.SampleRate
	s.curEnd = frame.Start + frame.Duration()
}

// close emits the current utterance and returns to idle.
func (s *Segmenter) close() {
	s.emit()
	s.state = stateIdle
	s.cur = nil
	s.silence = 0
}

// split emits the capped utterance and immediately reopens with no pre-roll,
// since speech is still in progress.
func (s *Segmenter) split(last types.AudioFrame) {
	s.emit()
	s.cur = nil
	s.curStart = last.Start + last.Duration()
	s.curEnd = s.curStart
	s.curPreRoll = 0
}

func (s *Segmenter) emit() {
	samples := make([]float32, len(s.cur))
	copy(samples, s.cur)
	s.out <- types.Utterance{
		Samples:    samples,
		SampleRate: s.curRate,
		Start:      s.curStart,
		End:        s.curEnd,
		PreRoll:    s.curPreRoll,
	}
}
