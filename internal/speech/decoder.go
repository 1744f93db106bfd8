package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// decodeBlockSize is the PCM block granularity coming out of the decoder.
// 4096 bytes is ~85 ms at 24 kHz int16 mono, small enough that cancellation
// stops audio within one block.
const decodeBlockSize = 4096

// Decoder converts encoded audio (MP3 from the edge adapter) to raw Int16LE
// mono PCM at a fixed sample rate by piping it through an ffmpeg subprocess,
// one process per stream.
type Decoder struct {
	path       string
	sampleRate int
	logger     *slog.Logger
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithFFmpegPath overrides the ffmpeg binary path. Default "ffmpeg" resolved
// via PATH.
func WithFFmpegPath(path string) DecoderOption {
	return func(d *Decoder) {
		if path != "" {
			d.path = path
		}
	}
}

// NewDecoder creates a Decoder producing PCM at sampleRate Hz.
func NewDecoder(sampleRate int, logger *slog.Logger, opts ...DecoderOption) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Decoder{
		path:       "ffmpeg",
		sampleRate: sampleRate,
		logger:     logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Decode starts an ffmpeg process fed by in and returns a channel of decoded
// PCM blocks. The channel is closed when the input is exhausted, the process
// exits, or ctx is cancelled; cancellation kills the process. The error
// return covers process startup only.
func (d *Decoder) Decode(ctx context.Context, in <-chan []byte) (<-chan []byte, error) {
	cmd := exec.CommandContext(ctx, d.path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", fmt.Sprint(d.sampleRate),
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("speech: decoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("speech: decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("speech: start %s: %w", d.path, err)
	}

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case seg, ok := <-in:
				if !ok {
					return
				}
				if _, err := stdin.Write(seg); err != nil {
					// Broken pipe after cancel is expected; drain in.
					for range in {
					}
					return
				}
			}
		}
	}()

	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		for {
			block := make([]byte, decodeBlockSize)
			n, err := io.ReadFull(stdout, block)
			if n > 0 {
				select {
				case out <- block[:n]:
				case <-ctx.Done():
				}
			}
			if err != nil {
				break
			}
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			d.logger.Warn("audio decode failed", "err", err)
		}
	}()
	return out, nil
}
