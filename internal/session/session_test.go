package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxtail/voxtail/internal/config"
	"github.com/voxtail/voxtail/internal/observe"
	"github.com/voxtail/voxtail/internal/tool"
	"github.com/voxtail/voxtail/internal/wire"
	asrmock "github.com/voxtail/voxtail/pkg/provider/asr/mock"
	"github.com/voxtail/voxtail/pkg/provider/llm"
	llmmock "github.com/voxtail/voxtail/pkg/provider/llm/mock"
	ttsmock "github.com/voxtail/voxtail/pkg/provider/tts/mock"
	vadmock "github.com/voxtail/voxtail/pkg/provider/vad/mock"
	"github.com/voxtail/voxtail/pkg/types"
)

type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
}

// fakeConn is an in-memory transport: tests feed inbound messages through a
// channel and inspect everything the session wrote.
type fakeConn struct {
	in chan inboundMsg

	mu     sync.Mutex
	frames []wire.Frame
	binary [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan inboundMsg, 64)}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case m, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return m.typ, m.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if typ == websocket.MessageBinary {
		cp := make([]byte, len(p))
		copy(cp, p)
		c.binary = append(c.binary, cp)
		return nil
	}
	f, err := wire.Decode(p)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) sendText(t *testing.T, f wire.Frame) {
	t.Helper()
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c.in <- inboundMsg{typ: websocket.MessageText, data: data}
}

func (c *fakeConn) sendAudio(pcm []byte) {
	c.in <- inboundMsg{typ: websocket.MessageBinary, data: pcm}
}

func (c *fakeConn) allFrames() []wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) audioWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.binary)
}

func (c *fakeConn) hasSignal(name string) bool {
	for _, f := range c.allFrames() {
		if f.Type == wire.FrameSignal && f.Content == name {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type harness struct {
	conn *fakeConn
	sess *Session
	done chan error
	llm  *llmmock.Provider
	tts  *ttsmock.Provider
	asr  *asrmock.Recognizer
}

func startSession(t *testing.T, cfg *config.Config, deps Deps, conn *fakeConn) *harness {
	t.Helper()
	s, err := New("sess-1", conn, cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		s.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("session did not shut down")
		}
	})
	return &harness{conn: conn, sess: s, done: done}
}

func testDeps(llmP *llmmock.Provider, ttsP *ttsmock.Provider, asrP *asrmock.Recognizer, vadP *vadmock.Engine) Deps {
	return Deps{
		Recognizer: asrP,
		LLM:        llmP,
		TTS:        ttsP,
		VAD:        vadP,
		Tools:      tool.NewRegistry(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// sumWithAttr totals the counter's data points whose attribute key holds val.
func sumWithAttr(rm metricdata.ResourceMetrics, name, key, val string) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				return 0
			}
			var total int64
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == val {
					total += dp.Value
				}
			}
			return total
		}
	}
	return 0
}

func histogramCount(rm metricdata.ResourceMetrics, name string) uint64 {
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				return 0
			}
			var total uint64
			for _, dp := range hist.DataPoints {
				total += dp.Count
			}
			return total
		}
	}
	return 0
}

func TestSessionTypedInputReply(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello "},
		{Text: "there.", FinishReason: llm.FinishStop},
	}}
	ttsP := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 960)}}
	conn := newFakeConn()
	h := startSession(t, config.Default(), testDeps(llmP, ttsP, &asrmock.Recognizer{}, &vadmock.Engine{}), conn)

	waitFor(t, func() bool { return conn.hasSignal(wire.SignalReady) })
	conn.sendText(t, wire.Frame{Type: wire.FrameInput, Content: "hi"})

	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingEnded) })

	var text string
	var sawFinal bool
	for _, f := range conn.allFrames() {
		if f.Type == wire.FrameText {
			text += f.Content
			if f.IsFinal {
				sawFinal = true
			}
		}
	}
	if text != "Hello there." {
		t.Errorf("reply text = %q, want %q", text, "Hello there.")
	}
	if !sawFinal {
		t.Error("missing final text frame")
	}
	if conn.audioWrites() == 0 {
		t.Error("no audio reached the transport")
	}
	if calls := ttsP.Calls(); len(calls) == 0 || calls[0].Voice.ID != "en-US-JennyNeural" {
		t.Errorf("tts calls = %+v, want english voice", calls)
	}
	_ = h
}

func TestSessionAudioUtteranceFlow(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Segmenter.MinSilenceMs = 100

	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "It is noon.", FinishReason: llm.FinishStop},
	}}
	ttsP := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 960)}}
	asrP := &asrmock.Recognizer{Transcripts: []types.Transcript{
		{Text: "what time is it", Language: types.LanguageEnglish, Confidence: 0.92, IsFinal: true},
	}}
	vadP := &vadmock.Engine{Script: []bool{true, true, true, true, true, false}}

	m, reader := newTestMetrics(t)
	conn := newFakeConn()
	deps := testDeps(llmP, ttsP, asrP, vadP)
	deps.Metrics = m
	startSession(t, cfg, deps, conn)
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalReady) })

	// 20 ms of 16 kHz int16 mono per frame; speech then enough silence to
	// close the utterance.
	frame := make([]byte, 640)
	for i := 0; i < 12; i++ {
		conn.sendAudio(frame)
	}

	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingEnded) })

	var transcript wire.Frame
	for _, f := range conn.allFrames() {
		if f.Type == wire.FrameTranscript {
			transcript = f
		}
	}
	if transcript.Content != "what time is it" || !transcript.IsFinal {
		t.Errorf("transcript frame = %+v", transcript)
	}
	if got := transcript.MetaString("language"); got != "en" {
		t.Errorf("transcript language = %q, want en", got)
	}
	if len(asrP.Calls()) != 1 {
		t.Errorf("asr calls = %d, want 1", len(asrP.Calls()))
	}
	if got := histogramCount(collectMetrics(t, reader), "voxtail.asr.duration"); got != 1 {
		t.Errorf("asr duration samples = %d, want 1", got)
	}
}

func TestSessionRecognitionFailure(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Segmenter.MinSilenceMs = 100

	asrP := &asrmock.Recognizer{Err: errors.New("model exploded")}
	vadP := &vadmock.Engine{Script: []bool{true, true, true, false}}
	llmP := &llmmock.Provider{}
	conn := newFakeConn()
	startSession(t, cfg, testDeps(llmP, &ttsmock.Provider{}, asrP, vadP), conn)
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalReady) })

	frame := make([]byte, 640)
	for i := 0; i < 12; i++ {
		conn.sendAudio(frame)
	}

	waitFor(t, func() bool {
		for _, f := range conn.allFrames() {
			if f.Type == wire.FrameTranscript && f.MetaString("error") != "" {
				return true
			}
		}
		return false
	})

	if conn.hasSignal(wire.SignalProcessingStarted) {
		t.Error("failed recognition must not start a reply")
	}
	if len(llmP.StreamCalls) != 0 {
		t.Error("failed recognition must not reach the llm")
	}
}

func TestSessionExplicitInterrupt(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "never finished"}},
		StreamHold:   make(chan struct{}),
	}
	conn := newFakeConn()
	h := startSession(t, config.Default(), testDeps(llmP, &ttsmock.Provider{}, &asrmock.Recognizer{}, &vadmock.Engine{}), conn)

	waitFor(t, func() bool { return conn.hasSignal(wire.SignalReady) })
	conn.sendText(t, wire.Frame{Type: wire.FrameInput, Content: "talk forever"})
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingStarted) })

	conn.sendText(t, wire.Frame{Type: wire.FrameInterrupt})
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingEnded) })
	waitFor(t, func() bool { return h.sess.State() == StateIdle })

	for _, f := range conn.allFrames() {
		if f.Type == wire.FrameText && f.IsFinal {
			t.Error("interrupted reply must not emit a final text frame")
		}
	}
}

func TestSessionBargeIn(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "never finished"}},
		StreamHold:   make(chan struct{}),
	}
	// Every audio frame is speech: the first one during processing barges in.
	vadP := &vadmock.Engine{Script: []bool{true}}
	conn := newFakeConn()
	startSession(t, config.Default(), testDeps(llmP, &ttsmock.Provider{}, &asrmock.Recognizer{}, vadP), conn)

	waitFor(t, func() bool { return conn.hasSignal(wire.SignalReady) })
	conn.sendText(t, wire.Frame{Type: wire.FrameInput, Content: "talk forever"})
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingStarted) })

	conn.sendAudio(make([]byte, 640))
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingEnded) })
}

func TestSessionUnknownFrameIgnored(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: llm.FinishStop}}}
	conn := newFakeConn()
	startSession(t, config.Default(), testDeps(llmP, &ttsmock.Provider{}, &asrmock.Recognizer{}, &vadmock.Engine{}), conn)
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalReady) })

	// Unknown type must be dropped without killing the connection.
	conn.in <- inboundMsg{typ: websocket.MessageText, data: []byte(`{"type":"mystery"}`)}
	conn.sendText(t, wire.Frame{Type: wire.FrameInput, Content: "still alive?"})
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingEnded) })
}

func TestSessionLLMFailureEmitsErrorUpdate(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{StreamErr: errors.New("upstream down")}
	ttsP := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 960)}}
	conn := newFakeConn()
	startSession(t, config.Default(), testDeps(llmP, ttsP, &asrmock.Recognizer{}, &vadmock.Engine{}), conn)

	waitFor(t, func() bool { return conn.hasSignal(wire.SignalReady) })
	conn.sendText(t, wire.Frame{Type: wire.FrameInput, Content: "hi"})
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingEnded) })

	var errFrame wire.Frame
	var text string
	for _, f := range conn.allFrames() {
		if f.Type == wire.FrameUpdate && f.MetaString("update_type") == wire.UpdateError {
			errFrame = f
		}
		if f.Type == wire.FrameText {
			text += f.Content
		}
	}
	if errFrame.Type == "" {
		t.Fatal("no ERROR update frame reached the client")
	}
	if errFrame.MetaString("status") != "error" {
		t.Errorf("error update status = %q, want error", errFrame.MetaString("status"))
	}
	if !strings.Contains(text, "Service temporarily unavailable") {
		t.Errorf("fallback text = %q, want bilingual unavailable message", text)
	}
}

func TestSessionRecordsTurnMetrics(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hello.", FinishReason: llm.FinishStop}}}
	ttsP := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 960)}}
	conn := newFakeConn()
	deps := testDeps(llmP, ttsP, &asrmock.Recognizer{}, &vadmock.Engine{})
	deps.Metrics = m
	startSession(t, config.Default(), deps, conn)

	waitFor(t, func() bool { return conn.hasSignal(wire.SignalReady) })
	conn.sendText(t, wire.Frame{Type: wire.FrameInput, Content: "hi"})
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingEnded) })

	rm := collectMetrics(t, reader)
	if got := sumWithAttr(rm, "voxtail.brain.turns", "status", "completed"); got != 1 {
		t.Errorf("completed brain turns = %d, want 1", got)
	}
	if got := sumWithAttr(rm, "voxtail.tts.chunks", "status", "ok"); got < 1 {
		t.Errorf("ok tts chunks = %d, want at least 1", got)
	}
	if got := histogramCount(rm, "voxtail.brain.turn.duration"); got != 1 {
		t.Errorf("brain turn duration samples = %d, want 1", got)
	}
}

func TestSessionInterruptRecordsMetrics(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	llmP := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "never finished"}},
		StreamHold:   make(chan struct{}),
	}
	conn := newFakeConn()
	deps := testDeps(llmP, &ttsmock.Provider{}, &asrmock.Recognizer{}, &vadmock.Engine{})
	deps.Metrics = m
	startSession(t, config.Default(), deps, conn)

	waitFor(t, func() bool { return conn.hasSignal(wire.SignalReady) })
	conn.sendText(t, wire.Frame{Type: wire.FrameInput, Content: "talk forever"})
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingStarted) })

	conn.sendText(t, wire.Frame{Type: wire.FrameInterrupt})
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingEnded) })

	rm := collectMetrics(t, reader)
	if got := sumWithAttr(rm, "voxtail.interrupts", "reason", "client"); got != 1 {
		t.Errorf("client interrupts = %d, want 1", got)
	}
	if got := sumWithAttr(rm, "voxtail.brain.turns", "status", "interrupted"); got != 1 {
		t.Errorf("interrupted brain turns = %d, want 1", got)
	}
}

func TestSessionChineseVoiceSelection(t *testing.T) {
	t.Parallel()

	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "现在是中午。", FinishReason: llm.FinishStop}}}
	ttsP := &ttsmock.Provider{Chunks: [][]byte{make([]byte, 960)}}
	conn := newFakeConn()
	startSession(t, config.Default(), testDeps(llmP, ttsP, &asrmock.Recognizer{}, &vadmock.Engine{}), conn)
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalReady) })

	conn.sendText(t, wire.Frame{Type: wire.FrameInput, Content: "现在几点"})
	waitFor(t, func() bool { return conn.hasSignal(wire.SignalProcessingEnded) })

	calls := ttsP.Calls()
	if len(calls) == 0 || calls[0].Voice.ID != "zh-CN-XiaoxiaoNeural" {
		t.Errorf("tts calls = %+v, want chinese voice", calls)
	}
}
