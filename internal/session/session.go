// Package session runs the per-connection orchestration: it owns the read
// loop, the audio pipeline stages, the reasoning task, and the synthesis
// worker of one client, and enforces the interruption contract between them.
//
// Data flows in one direction — transport, ingest, segmenter, ASR, brain,
// TTS, egress, transport — with each stage owning and closing its output
// channel. Interruption cuts across the flow: speaking again (or an explicit
// interrupt frame) cancels the current reply's context, which the brain and
// the TTS worker observe at their next suspension point, while the frame
// writer keeps delivering already-queued frames so the client sees a
// consistent event stream.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/voxtail/voxtail/internal/brain"
	"github.com/voxtail/voxtail/internal/config"
	"github.com/voxtail/voxtail/internal/ingest"
	"github.com/voxtail/voxtail/internal/observe"
	"github.com/voxtail/voxtail/internal/segment"
	"github.com/voxtail/voxtail/internal/speech"
	"github.com/voxtail/voxtail/internal/tool"
	"github.com/voxtail/voxtail/internal/transcript"
	"github.com/voxtail/voxtail/internal/wire"
	"github.com/voxtail/voxtail/pkg/provider/asr"
	"github.com/voxtail/voxtail/pkg/provider/llm"
	"github.com/voxtail/voxtail/pkg/provider/tts"
	"github.com/voxtail/voxtail/pkg/provider/vad"
	"github.com/voxtail/voxtail/pkg/types"
)

// State is the session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateIdle
	StateProcessing
	StateSpeaking
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the transport surface a session needs. *websocket.Conn satisfies
// it.
type Conn interface {
	wire.Conn
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

// Deps carries the process-wide singletons injected into every session.
type Deps struct {
	Recognizer asr.Recognizer
	LLM        llm.Provider
	TTS        tts.Provider
	VAD        vad.Engine
	Tools      *tool.Registry

	// Corrector post-processes transcripts; nil disables correction.
	Corrector *transcript.Corrector

	// SystemPrompt overrides the brain's built-in prompt when non-empty.
	SystemPrompt string

	// Metrics receives pipeline instrumentation; nil falls back to the
	// process-wide instance.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// turnInput is one user turn waiting for the brain.
type turnInput struct {
	text string
	lang types.Language
}

// Session orchestrates one client connection.
type Session struct {
	id     string
	cfg    *config.Config
	conn   Conn
	logger *slog.Logger

	writer   *wire.FrameWriter
	ingest   *ingest.Ingest
	seg      *segment.Segmenter
	rec      asr.Recognizer
	corr     *transcript.Corrector
	brain    *brain.Brain
	pipeline *speech.Pipeline
	egress   *speech.Egress
	token    InterruptToken
	metrics  *observe.Metrics

	turns chan turnInput
	state atomic.Int32

	stop      context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New wires up a session for one accepted connection. The connection itself
// stays owned by the caller; Run drives it.
func New(id string, conn Conn, cfg *config.Config, deps Deps) (*Session, error) {
	if deps.Recognizer == nil || deps.LLM == nil || deps.TTS == nil || deps.VAD == nil {
		return nil, errors.New("session: recognizer, llm, tts, and vad are all required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	s := &Session{
		id:      id,
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		rec:     deps.Recognizer,
		corr:    deps.Corrector,
		metrics: metrics,
		turns:   make(chan turnInput, 4),
	}
	s.state.Store(int32(StateConnecting))

	s.writer = wire.NewFrameWriter(conn, logger)

	in, err := ingest.New(ingest.Config{
		SampleRate:     cfg.Audio.SampleRateIn,
		FrameMs:        cfg.Audio.FrameMs,
		MaxFramesQueue: cfg.Audio.MaxFramesQueue,
	}, logger, ingest.WithMetrics(metrics))
	if err != nil {
		s.writer.Close()
		return nil, err
	}
	s.ingest = in

	det, err := deps.VAD.NewDetector(vad.Config{
		SampleRate:  cfg.Audio.SampleRateIn,
		FrameSizeMs: cfg.Audio.FrameMs,
		Threshold:   cfg.Segmenter.VADThreshold,
	})
	if err != nil {
		s.writer.Close()
		return nil, err
	}

	seg, err := segment.New(segment.Config{
		PreRollMs:      cfg.Segmenter.PreRollMs,
		MinSilenceMs:   cfg.Segmenter.MinSilenceMs,
		MaxUtteranceMs: cfg.Segmenter.MaxUtteranceMs,
	}, det, s.onSpeechOnset)
	if err != nil {
		s.writer.Close()
		return nil, err
	}
	s.seg = seg

	s.egress = speech.NewEgress(s.writer)
	var dec *speech.Decoder
	if deps.TTS.Format() == tts.FormatMP3 {
		dec = speech.NewDecoder(cfg.Audio.SampleRateOut, logger)
	}
	s.pipeline = speech.NewPipeline(deps.TTS, s.egress, dec, speech.Config{
		ChunkTimeout: cfg.TTS.ChunkTimeout(),
		SampleRate:   cfg.Audio.SampleRateOut,
		Metrics:      metrics,
	}, logger)

	s.brain = brain.New(deps.LLM, deps.Tools, brain.Config{
		MaxHistory:        cfg.Brain.MaxConversationHistory,
		MaxToolIterations: cfg.Brain.MaxToolIterations,
		ToolTimeout:       cfg.Brain.ToolTimeout(),
		InactivityTimeout: cfg.LLM.InactivityTimeout(),
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		SystemPrompt:      deps.SystemPrompt,
		DefaultLanguage:   cfg.DefaultLanguage,
		Metrics:           metrics,
	}, logger)

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the lifecycle state, reporting speaking while the current
// reply's audio is flowing.
func (s *Session) State() State {
	st := State(s.state.Load())
	if st == StateProcessing && s.egress.Busy() {
		return StateSpeaking
	}
	return st
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run drives the session until the connection drops or ctx is cancelled.
// It blocks for the session's whole lifetime and releases every resource
// before returning.
func (s *Session) Run(ctx context.Context) error {
	lifeCtx, stop := context.WithCancel(ctx)
	s.stop = stop
	defer s.shutdown()

	s.setState(StateReady)
	if err := s.writer.Send(lifeCtx, wire.NewSignal(wire.SignalReady)); err != nil {
		return err
	}
	s.setState(StateIdle)
	s.logger.Info("session ready")

	// readLoop and asrLoop both enqueue turns; the channel closes once both
	// are done so the brain loop drains cleanly.
	var producers sync.WaitGroup
	producers.Add(2)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer producers.Done()
		s.readLoop(lifeCtx)
	}()
	go func() {
		defer wg.Done()
		s.segmentLoop()
	}()
	go func() {
		defer wg.Done()
		defer producers.Done()
		s.asrLoop(lifeCtx)
	}()
	go func() {
		producers.Wait()
		close(s.turns)
	}()

	s.brainLoop(lifeCtx)
	wg.Wait()
	return s.closeErr
}

// Close asks a running session to stop; Run unwinds and releases resources.
// Closing a session that never ran releases its resources directly.
func (s *Session) Close() {
	if s.stop != nil {
		s.stop()
		return
	}
	s.shutdown()
}

// shutdown releases session resources in reverse wiring order.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.token.Cancel()
		var errs []error
		if err := s.pipeline.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.writer.Close(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
		s.setState(StateClosed)
		s.logger.Info("session closed", "dropped_frames", s.ingest.Dropped())
	})
}

// ─── inbound ─────────────────────────────────────────────────────────────────

// readLoop owns the transport read side: binary frames feed the audio
// ingest, text frames carry typed turns and interrupts.
func (s *Session) readLoop(ctx context.Context) {
	defer s.stop()
	defer s.ingest.Close()

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Info("connection closed", "err", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			s.ingest.Push(data)

		case websocket.MessageText:
			f, err := wire.Decode(data)
			if err != nil {
				s.logger.Warn("dropping inbound frame", "err", err)
				continue
			}
			s.handleFrame(ctx, f)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, f wire.Frame) {
	switch f.Type {
	case wire.FrameInput:
		text := strings.TrimSpace(f.Content)
		if text == "" {
			return
		}
		s.enqueueTurn(ctx, text, types.DetectLanguage(text))

	case wire.FrameInterrupt:
		s.interrupt("client")

	default:
		s.logger.Warn("dropping unexpected inbound frame", "type", f.Type)
	}
}

// segmentLoop feeds ingest frames through the segmenter.
func (s *Session) segmentLoop() {
	for frame := range s.ingest.Frames() {
		s.seg.Push(frame)
	}
	s.seg.Close()
}

// asrLoop transcribes utterances and turns non-empty transcripts into brain
// input.
func (s *Session) asrLoop(ctx context.Context) {
	for u := range s.seg.Utterances() {
		start := time.Now()
		tr, err := s.rec.Recognize(ctx, u)
		if err == nil {
			s.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Warn("recognition failed", "duration", u.Duration(), "err", err)
			_ = s.writer.Send(ctx, wire.NewTranscriptError("recognition_failed"))
			continue
		}

		text := strings.TrimSpace(tr.Text)
		if text == "" {
			_ = s.writer.Send(ctx, wire.NewTranscriptError("empty_transcript"))
			continue
		}
		if s.corr != nil {
			text = s.corr.Correct(text)
		}
		tr.Text = text
		tr.IsFinal = true

		s.logger.Debug("transcript", "language", tr.Language, "confidence", tr.Confidence)
		_ = s.writer.Send(ctx, wire.NewTranscript(tr))
		s.enqueueTurn(ctx, text, tr.Language)
	}
}

func (s *Session) enqueueTurn(ctx context.Context, text string, lang types.Language) {
	select {
	case s.turns <- turnInput{text: text, lang: lang}:
	case <-ctx.Done():
	}
}

// ─── interruption ────────────────────────────────────────────────────────────

// onSpeechOnset is invoked by the segmenter on every idle-to-speech
// transition; speaking over an in-flight reply is barge-in.
func (s *Session) onSpeechOnset() {
	s.interrupt("speech_onset")
}

// interrupt cancels the current reply when one is in flight. The connection
// stays open and history is kept.
func (s *Session) interrupt(reason string) {
	st := s.State()
	if st != StateProcessing && st != StateSpeaking {
		return
	}
	s.logger.Info("reply interrupted", "reason", reason)
	s.metrics.RecordInterrupt(context.Background(), reason)
	s.token.Cancel()
	s.pipeline.Drain()
}

// ─── reply ───────────────────────────────────────────────────────────────────

// brainLoop serializes user turns: at most one brain task runs at a time.
func (s *Session) brainLoop(ctx context.Context) {
	for in := range s.turns {
		if ctx.Err() != nil {
			continue
		}
		s.runTurn(ctx, in)
	}
}

func (s *Session) runTurn(ctx context.Context, in turnInput) {
	start := time.Now()
	turnCtx := s.token.Arm(ctx)
	s.setState(StateProcessing)
	_ = s.writer.Send(ctx, wire.NewSignal(wire.SignalProcessingStarted))

	var reply strings.Builder
	for u := range s.brain.Respond(turnCtx, in.text, in.lang) {
		s.forwardUpdate(ctx, turnCtx, u, &reply)
	}

	// The reply is complete when its audio has been handed to the egress, or
	// when both the brain and the pipeline observed the cancellation.
	if turnCtx.Err() == nil {
		_ = s.pipeline.Flush(turnCtx)
	}
	if turnCtx.Err() != nil {
		s.pipeline.Drain()
	}

	status := "completed"
	if turnCtx.Err() != nil {
		status = "interrupted"
	}
	s.metrics.RecordBrainTurn(ctx, status, time.Since(start).Seconds())

	_ = s.writer.Send(ctx, wire.NewSignal(wire.SignalProcessingEnded))
	s.setState(StateIdle)
}

// forwardUpdate renders one brain update as its wire frame, accumulating
// reply text for synthesis. Frames go out under the session context so an
// interrupted turn still reaches the client in a consistent state; only the
// TTS hand-off is bound to the turn context.
func (s *Session) forwardUpdate(ctx, turnCtx context.Context, u brain.Update, reply *strings.Builder) {
	switch u.Kind {
	case brain.UpdateThought:
		_ = s.writer.Send(ctx, wire.NewThought(u.Delta, u.MsgID, u.Turn))

	case brain.UpdateText:
		reply.WriteString(u.Delta)
		_ = s.writer.Send(ctx, wire.NewText(u.Delta, false, u.MsgID, u.Turn))

	case brain.UpdateToolCallStart:
		_ = s.writer.Send(ctx, wire.NewToolCall(u.MsgID, u.Turn, u.Index, u.Name, "", u.Status, false))

	case brain.UpdateToolCallArgs:
		_ = s.writer.Send(ctx, wire.NewToolCall(u.MsgID, u.Turn, u.Index, u.Name, u.Delta, u.Status, false))

	case brain.UpdateToolCallEnd:
		_ = s.writer.Send(ctx, wire.NewToolCall(u.MsgID, u.Turn, u.Index, u.Name, u.Arguments, u.Status, true))

	case brain.UpdateToolResult:
		_ = s.writer.Send(ctx, wire.NewToolResult(u.MsgID, u.Turn, u.Index, u.Name, u.Content, u.Status))

	case brain.UpdateError:
		_ = s.writer.Send(ctx, wire.NewErrorUpdate(u.MsgID, u.Turn))

	case brain.UpdateTurnEnd:
		_ = s.writer.Send(ctx, wire.NewText("", true, u.MsgID, u.Turn))
		s.speak(turnCtx, reply.String(), u.Language, u.MsgID)
	}
}

// speak chunks the finished reply text and queues it for synthesis under the
// turn context, so a late interrupt still stops it.
func (s *Session) speak(turnCtx context.Context, text string, lang types.Language, msgID string) {
	chunks := speech.SplitText(text, s.cfg.TTS.MinChunkChars)
	voice := s.voiceFor(lang)
	for _, chunk := range chunks {
		if err := s.pipeline.Enqueue(turnCtx, speech.Request{
			Text:     chunk,
			Language: lang,
			Voice:    voice,
			MsgID:    msgID,
		}); err != nil {
			return
		}
	}
}

// voiceFor maps the reply language to the configured voice.
func (s *Session) voiceFor(lang types.Language) types.VoiceProfile {
	id := s.cfg.TTS.VoiceEN
	if lang == types.LanguageChinese {
		id = s.cfg.TTS.VoiceZH
	}
	return types.VoiceProfile{ID: id, Language: lang}
}
