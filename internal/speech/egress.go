package speech

import (
	"context"
	"sync"
	"time"
)

// busyWindow is how recently a frame must have been written for the egress
// to count as speaking.
const busyWindow = 250 * time.Millisecond

// BinaryWriter is the transport surface the egress writes to. The session's
// FrameWriter satisfies it.
type BinaryWriter interface {
	SendBinary(ctx context.Context, pcm []byte) error
}

// Egress delivers synthesized PCM to the transport in production order and
// tracks a busy/idle signal for the speaking sub-state. It never buffers
// across turns; a cancelled turn simply stops producing new frames while
// anything already queued on the transport drains.
type Egress struct {
	w BinaryWriter

	mu        sync.Mutex
	lastWrite time.Time
	written   int64
	now       func() time.Time
}

// NewEgress creates an Egress writing to w.
func NewEgress(w BinaryWriter) *Egress {
	return &Egress{w: w, now: time.Now}
}

// Write forwards one PCM block to the transport. Blocks while the outbound
// queue is full; unblocks on ctx cancellation.
func (e *Egress) Write(ctx context.Context, pcm []byte) error {
	if err := e.w.SendBinary(ctx, pcm); err != nil {
		return err
	}
	e.mu.Lock()
	e.lastWrite = e.now()
	e.written += int64(len(pcm))
	e.mu.Unlock()
	return nil
}

// Busy reports whether audio was written within the busy window.
func (e *Egress) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.lastWrite.IsZero() && e.now().Sub(e.lastWrite) <= busyWindow
}

// BytesWritten returns the total PCM bytes forwarded, for metrics.
func (e *Egress) BytesWritten() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written
}
