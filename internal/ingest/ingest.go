// Package ingest turns raw PCM bytes from the transport into fixed-size
// audio frames for segmentation.
//
// The ingest queue is bounded: when the consumer falls behind, the oldest
// queued frames are dropped so the stream stays near real time instead of
// accumulating latency. Drops are counted and logged at a throttled rate.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voxtail/voxtail/internal/observe"
	"github.com/voxtail/voxtail/pkg/audio"
	"github.com/voxtail/voxtail/pkg/types"
)

// Config sizes the ingest stage.
type Config struct {
	// SampleRate is the inbound PCM rate in Hz.
	SampleRate int

	// FrameMs is the frame duration in milliseconds.
	FrameMs int

	// MaxFramesQueue bounds the frame queue.
	MaxFramesQueue int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("ingest: sample rate %d must be positive", c.SampleRate))
	}
	if c.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("ingest: frame ms %d must be positive", c.FrameMs))
	}
	if c.MaxFramesQueue <= 0 {
		errs = append(errs, fmt.Errorf("ingest: max frames queue %d must be positive", c.MaxFramesQueue))
	}
	return errors.Join(errs...)
}

// warnInterval throttles drop warnings per ingest instance.
const warnInterval = 5 * time.Second

// Ingest converts PCM16LE bytes into normalized frames on a bounded queue.
//
// Push and Close must be called from a single goroutine (the transport read
// loop). Frames may be consumed from any goroutine.
type Ingest struct {
	frameSamples int
	sampleRate   int
	frames       chan types.AudioFrame
	logger       *slog.Logger
	metrics      *observe.Metrics

	remainder []byte
	samplePos int64

	dropped  atomic.Int64
	lastWarn time.Time
}

// Option configures an Ingest.
type Option func(*Ingest)

// WithMetrics routes drop accounting to m instead of the process-wide
// instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(in *Ingest) { in.metrics = m }
}

// New creates an Ingest stage.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Ingest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	in := &Ingest{
		frameSamples: cfg.SampleRate * cfg.FrameMs / 1000,
		sampleRate:   cfg.SampleRate,
		frames:       make(chan types.AudioFrame, cfg.MaxFramesQueue),
		logger:       logger,
	}
	for _, o := range opts {
		o(in)
	}
	if in.metrics == nil {
		in.metrics = observe.DefaultMetrics()
	}
	return in, nil
}

// Frames returns the frame queue. It is closed by Close.
func (in *Ingest) Frames() <-chan types.AudioFrame {
	return in.frames
}

// Push appends PCM bytes to the carry buffer and emits every complete frame.
// An odd trailing byte or a partial frame stays buffered for the next call.
func (in *Ingest) Push(pcm []byte) {
	if len(in.remainder) > 0 {
		pcm = append(in.remainder, pcm...)
		in.remainder = nil
	}

	frameBytes := in.frameSamples * 2
	for len(pcm) >= frameBytes {
		in.emit(audio.Int16ToFloat32(pcm[:frameBytes]))
		pcm = pcm[frameBytes:]
	}
	if len(pcm) > 0 {
		in.remainder = append([]byte(nil), pcm...)
	}
}

// Close flushes nothing and closes the frame queue; buffered partial audio is
// discarded. The stream position survives so a restarted reader would not
// rewind timestamps.
func (in *Ingest) Close() {
	close(in.frames)
}

// Dropped reports how many frames were discarded because the queue was full.
func (in *Ingest) Dropped() int64 {
	return in.dropped.Load()
}

func (in *Ingest) emit(samples []float32) {
	frame := types.AudioFrame{
		Samples:    samples,
		SampleRate: in.sampleRate,
		Start:      time.Duration(in.samplePos) * time.Second / time.Duration(in.sampleRate),
	}
	in.samplePos += int64(len(samples))

	for {
		select {
		case in.frames <- frame:
			return
		default:
		}
		// Queue full: evict the oldest frame and retry.
		select {
		case <-in.frames:
			in.dropped.Add(1)
			in.metrics.DroppedFrames.Add(context.Background(), 1)
			if now := time.Now(); now.Sub(in.lastWarn) >= warnInterval {
				in.lastWarn = now
				in.logger.Warn("ingest queue full, dropping oldest frames",
					"dropped_total", in.dropped.Load())
			}
		default:
		}
	}
}
