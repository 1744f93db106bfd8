package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxtail/voxtail/internal/observe"
	"github.com/voxtail/voxtail/pkg/audio"
	"github.com/voxtail/voxtail/pkg/provider/tts"
	"github.com/voxtail/voxtail/pkg/types"
)

// fadeDuration bounds the anti-click ramps applied at reply start and on
// interruption.
const fadeDuration = 20 * time.Millisecond

// Request is one chunk of assistant text queued for synthesis.
type Request struct {
	Text     string
	Language types.Language
	Voice    types.VoiceProfile
	MsgID    string
}

// Config tunes the synthesis pipeline.
type Config struct {
	// ChunkTimeout caps synthesis of one chunk. Default 15s.
	ChunkTimeout time.Duration

	// SampleRate of the produced PCM. Default 24000.
	SampleRate int

	// QueueSize bounds pending requests. Default 16.
	QueueSize int

	// Metrics receives per-chunk synthesis instrumentation. Defaults to the
	// process-wide instance.
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 15 * time.Second
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 24000
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

type queued struct {
	// ctx is the turn context the request was enqueued under; a cancelled
	// turn's requests are skipped unprocessed.
	ctx context.Context
	req Request

	// done marks a Flush sentinel; the worker closes it instead of
	// synthesizing.
	done chan struct{}
}

// Pipeline is the single-consumer synthesis worker of one session. Requests
// are processed strictly FIFO: synthesize, decode to PCM when the adapter
// emits an encoded format, fade, and forward to the egress.
//
// Delivery to the transport deliberately ignores turn cancellation; an
// interrupted turn stops producing new blocks (after a fade-out) but never
// tears the writer down.
type Pipeline struct {
	tts    tts.Provider
	dec    *Decoder
	egress *Egress
	cfg    Config
	logger *slog.Logger

	queue     chan queued
	baseCtx   context.Context
	baseStop  context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once

	// lastMsgID tracks which reply last produced audio, so only the first
	// block of each reply fades in. Worker-goroutine only.
	lastMsgID string
}

// NewPipeline creates a Pipeline and starts its worker. dec may be nil when
// the provider emits PCM directly.
func NewPipeline(provider tts.Provider, egress *Egress, dec *Decoder, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, baseStop := context.WithCancel(context.Background())
	p := &Pipeline{
		tts:      provider,
		dec:      dec,
		egress:   egress,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		baseCtx:  baseCtx,
		baseStop: baseStop,
		stopped:  make(chan struct{}),
	}
	p.queue = make(chan queued, p.cfg.QueueSize)
	go p.worker()
	return p
}

// Enqueue adds a synthesis request bound to the given turn context. Blocks
// while the queue is full; unblocks on ctx cancellation or pipeline close.
func (p *Pipeline) Enqueue(ctx context.Context, req Request) error {
	select {
	case p.queue <- queued{ctx: ctx, req: req}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.baseCtx.Done():
		return context.Cause(p.baseCtx)
	}
}

// Flush blocks until every request enqueued before the call has been
// processed, skipped, or drained. Unblocks early on ctx cancellation.
func (p *Pipeline) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case p.queue <- queued{ctx: ctx, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.baseCtx.Done():
		return context.Cause(p.baseCtx)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.baseCtx.Done():
		return context.Cause(p.baseCtx)
	}
}

// Drain discards all pending requests. Called on interruption so the next
// turn starts with an empty queue; the in-flight chunk stops via its own
// context.
func (p *Pipeline) Drain() {
	for {
		select {
		case item := <-p.queue:
			if item.done != nil {
				close(item.done)
			}
		default:
			return
		}
	}
}

// Close stops the worker and waits for it to exit. Safe to call multiple
// times.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(p.baseStop)
	<-p.stopped
	return nil
}

func (p *Pipeline) worker() {
	defer close(p.stopped)
	for {
		select {
		case <-p.baseCtx.Done():
			return
		case item := <-p.queue:
			if item.done != nil {
				close(item.done)
				continue
			}
			p.speak(item)
		}
	}
}

// speak synthesizes one request and forwards its PCM to the egress.
func (p *Pipeline) speak(item queued) {
	if item.ctx.Err() != nil {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(item.ctx, p.cfg.ChunkTimeout)
	defer cancel()

	segments, err := p.tts.Synthesize(ctx, item.req.Text, item.req.Voice)
	if err != nil {
		p.logger.Warn("tts synthesis failed", "msg_id", item.req.MsgID, "err", err)
		p.cfg.Metrics.RecordTTSChunk(p.baseCtx, "error", time.Since(start).Seconds())
		return
	}

	pcm := segments
	if p.tts.Format() == tts.FormatMP3 {
		pcm, err = p.dec.Decode(ctx, segments)
		if err != nil {
			p.logger.Warn("tts decode failed", "msg_id", item.req.MsgID, "err", err)
			p.cfg.Metrics.RecordTTSChunk(p.baseCtx, "error", time.Since(start).Seconds())
			cancel()
			for range segments {
			}
			return
		}
	}

	wrote := false
	for block := range pcm {
		if !wrote && item.req.MsgID != p.lastMsgID {
			audio.FadeIn(block, p.cfg.SampleRate, fadeDuration)
		}

		if item.ctx.Err() != nil {
			audio.FadeOut(block, p.cfg.SampleRate, fadeDuration)
			_ = p.egress.Write(p.baseCtx, block)
			wrote = true
			break
		}
		if err := p.egress.Write(p.baseCtx, block); err != nil {
			p.logger.Warn("audio egress write failed", "msg_id", item.req.MsgID, "err", err)
			break
		}
		wrote = true
		p.lastMsgID = item.req.MsgID
	}
	cancel()
	for range pcm {
	}

	switch {
	case wrote:
		p.cfg.Metrics.RecordTTSChunk(p.baseCtx, "ok", time.Since(start).Seconds())
	case ctx.Err() == context.DeadlineExceeded:
		p.logger.Warn("tts chunk timed out, skipping",
			"msg_id", item.req.MsgID, "timeout", p.cfg.ChunkTimeout)
		p.cfg.Metrics.RecordTTSChunk(p.baseCtx, "timeout", time.Since(start).Seconds())
	}
}
