package wire

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrWriterClosed is returned by Send and SendBinary after Close.
var ErrWriterClosed = errors.New("wire: frame writer closed")

const (
	// defaultQueueSize bounds the outbound frame channel. Producers block
	// (cancellation-aware) when the client cannot keep up.
	defaultQueueSize = 128

	// defaultWriteTimeout caps a single transport write.
	defaultWriteTimeout = 10 * time.Second
)

// Conn is the write surface the FrameWriter needs from the transport.
// *websocket.Conn satisfies it.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// FrameWriter serializes all outbound traffic onto one connection. Every
// producer (session signals, brain updates, TTS audio) enqueues here; a single
// goroutine owns the transport write side, which guarantees frame ordering.
//
// The writer is deliberately not tied to the session's interruption token:
// frames queued before a cancel are still delivered so the client observes a
// consistent event stream. It stops only via Close.
type FrameWriter struct {
	conn         Conn
	log          *slog.Logger
	ch           chan outbound
	done         chan struct{}
	stopped      chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

type outbound struct {
	binary bool
	data   []byte
}

// WriterOption configures a FrameWriter.
type WriterOption func(*FrameWriter)

// WithQueueSize sets the outbound channel capacity. Default 128.
func WithQueueSize(n int) WriterOption {
	return func(w *FrameWriter) {
		if n > 0 {
			w.ch = make(chan outbound, n)
		}
	}
}

// WithWriteTimeout caps each transport write. Default 10s.
func WithWriteTimeout(d time.Duration) WriterOption {
	return func(w *FrameWriter) {
		if d > 0 {
			w.writeTimeout = d
		}
	}
}

// NewFrameWriter creates a writer over conn and starts its write loop.
func NewFrameWriter(conn Conn, log *slog.Logger, opts ...WriterOption) *FrameWriter {
	w := &FrameWriter{
		conn:         conn,
		log:          log,
		ch:           make(chan outbound, defaultQueueSize),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(w)
	}
	go w.loop()
	return w
}

// Send encodes f and enqueues it. Blocks while the queue is full; unblocks on
// ctx cancellation or writer close.
func (w *FrameWriter) Send(ctx context.Context, f Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return w.enqueue(ctx, outbound{binary: false, data: data})
}

// SendBinary enqueues a raw PCM frame. The caller must not reuse pcm after
// the call returns.
func (w *FrameWriter) SendBinary(ctx context.Context, pcm []byte) error {
	return w.enqueue(ctx, outbound{binary: true, data: pcm})
}

func (w *FrameWriter) enqueue(ctx context.Context, out outbound) error {
	select {
	case <-w.done:
		return ErrWriterClosed
	default:
	}
	select {
	case w.ch <- out:
		return nil
	case <-w.done:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the write loop after draining frames already queued. Safe to
// call multiple times.
func (w *FrameWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	<-w.stopped
	return nil
}

func (w *FrameWriter) loop() {
	defer close(w.stopped)
	for {
		select {
		case out := <-w.ch:
			w.write(out)
		case <-w.done:
			// Deliver what was queued before the close, then stop.
			for {
				select {
				case out := <-w.ch:
					w.write(out)
				default:
					return
				}
			}
		}
	}
}

func (w *FrameWriter) write(out outbound) {
	ctx, cancel := context.WithTimeout(context.Background(), w.writeTimeout)
	defer cancel()

	typ := websocket.MessageText
	if out.binary {
		typ = websocket.MessageBinary
	}
	if err := w.conn.Write(ctx, typ, out.data); err != nil {
		w.log.Warn("frame write failed", "binary", out.binary, "err", err)
	}
}
