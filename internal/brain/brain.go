// Package brain implements the reasoning loop that turns a user transcript
// into a streamed assistant reply.
//
// One Brain serves one session. Each call to Respond runs a bounded loop of
// LLM turns: the model streams text, thoughts, and tool-call fragments; the
// loop accumulates the fragments, validates and executes the requested tools,
// feeds results back, and repeats until the model produces a plain reply or
// the iteration cap is hit. Every observable step is published as an Update
// so the session can mirror it to the client while synthesis runs.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxtail/voxtail/internal/observe"
	"github.com/voxtail/voxtail/internal/tool"
	"github.com/voxtail/voxtail/pkg/provider/llm"
	"github.com/voxtail/voxtail/pkg/types"
)

const (
	// exhaustedReply is spoken when the tool loop hits its iteration cap.
	exhaustedReply = "I was unable to complete that in the allotted steps."

	// unavailableReply is spoken when the LLM fails or stalls.
	unavailableReply = "服务暂时不可用 / Service temporarily unavailable"

	// clientContentLimit caps tool result content mirrored to the client.
	// History keeps the full content.
	clientContentLimit = 200
)

// Config tunes the reasoning loop.
type Config struct {
	// MaxHistory bounds retained conversation items. Default 20.
	MaxHistory int

	// MaxToolIterations caps LLM turns per reply. Default 5.
	MaxToolIterations int

	// ToolTimeout caps one tool invocation. Default 30s.
	ToolTimeout time.Duration

	// InactivityTimeout aborts a stream that emits nothing for this long.
	// Default 60s.
	InactivityTimeout time.Duration

	// Temperature and MaxTokens pass through to the LLM request.
	Temperature float64
	MaxTokens   int

	// SystemPrompt is the instruction prepended to every request.
	SystemPrompt string

	// DefaultLanguage is the reply language when detection fails. Default zh.
	DefaultLanguage types.Language

	// Metrics receives tool invocation instrumentation. Defaults to the
	// process-wide instance.
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.MaxHistory <= 0 {
		c.MaxHistory = 20
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 5
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 60 * time.Second
	}
	if !c.DefaultLanguage.IsValid() || c.DefaultLanguage == types.LanguageUnknown {
		c.DefaultLanguage = types.LanguageChinese
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// Brain runs the reasoning loop for one session. History persists across
// replies. Respond must not be called concurrently; the session serializes
// replies.
type Brain struct {
	cfg    Config
	llm    llm.Provider
	tools  *tool.Registry
	hist   *History
	logger *slog.Logger
}

// New creates a Brain backed by the given provider and tool registry.
func New(provider llm.Provider, tools *tool.Registry, cfg Config, logger *slog.Logger) *Brain {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Brain{
		cfg:    cfg,
		llm:    provider,
		tools:  tools,
		hist:   NewHistory(cfg.MaxHistory),
		logger: logger,
	}
}

// History exposes the conversation memory, mainly for inspection in tests.
func (b *Brain) History() *History {
	return b.hist
}

// Respond records the user input and streams the reply as Update events. The
// returned channel is closed when the reply completes or ctx is cancelled; a
// cancelled reply closes without a turn_end event. The partial reply stays in
// history, trimmed to its last completed tool exchange.
func (b *Brain) Respond(ctx context.Context, text string, lang types.Language) <-chan Update {
	out := make(chan Update, 32)
	go func() {
		defer close(out)
		b.run(ctx, text, lang, out)
	}()
	return out
}

func (b *Brain) run(ctx context.Context, text string, lang types.Language, out chan<- Update) {
	msgID := newMsgID()
	b.hist.AddUser(text, lang)

	for turn := 0; turn < b.cfg.MaxToolIterations; turn++ {
		req := llm.CompletionRequest{
			Messages:     b.hist.Messages(),
			Tools:        b.tools.Catalog(),
			Temperature:  b.cfg.Temperature,
			MaxTokens:    b.cfg.MaxTokens,
			SystemPrompt: b.cfg.SystemPrompt,
		}

		res, err := b.streamTurn(ctx, req, msgID, turn, out)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("llm stream failed", "msg_id", msgID, "turn", turn, "err", err)
			b.emit(ctx, out, Update{Kind: UpdateError, MsgID: msgID, Turn: turn, Status: StatusError})
			b.finish(ctx, out, msgID, turn, unavailableReply)
			return
		}

		if len(res.calls) == 0 {
			b.hist.AddAssistant(res.text)
			b.emit(ctx, out, Update{Kind: UpdateTurnEnd, MsgID: msgID, Turn: turn, Language: b.replyLanguage()})
			return
		}

		b.hist.AddAssistant(res.text)
		for _, call := range res.calls {
			b.hist.AddToolCall(call)
		}

		for i, call := range res.calls {
			b.emit(ctx, out, Update{
				Kind:      UpdateToolCallEnd,
				MsgID:     msgID,
				Turn:      turn,
				Index:     i,
				Name:      call.Name,
				Arguments: call.Arguments,
				Status:    StatusExecuting,
			})

			content, status := b.invoke(ctx, call)
			if ctx.Err() != nil {
				// The next request must not carry calls the model never got
				// answers for.
				b.hist.DropUnpairedToolCalls()
				return
			}
			b.hist.AddToolResult(call.ID, content)
			b.emit(ctx, out, Update{
				Kind:    UpdateToolResult,
				MsgID:   msgID,
				Turn:    turn,
				Index:   i,
				Name:    call.Name,
				Content: truncateForClient(content),
				Status:  status,
			})
		}
	}

	b.logger.Warn("tool iteration cap reached", "msg_id", msgID, "cap", b.cfg.MaxToolIterations)
	b.finish(ctx, out, msgID, b.cfg.MaxToolIterations-1, exhaustedReply)
}

// finish emits reply as the final text of the turn and closes it out.
func (b *Brain) finish(ctx context.Context, out chan<- Update, msgID string, turn int, reply string) {
	b.hist.AddAssistant(reply)
	b.emit(ctx, out, Update{Kind: UpdateText, MsgID: msgID, Turn: turn, Delta: reply})
	b.emit(ctx, out, Update{Kind: UpdateTurnEnd, MsgID: msgID, Turn: turn, Language: b.replyLanguage()})
}

// turnResult is the accumulated output of one streamed LLM turn.
type turnResult struct {
	text  string
	calls []types.ToolCall
}

// callAccum collects the fragments of one tool call.
type callAccum struct {
	id      string
	name    string
	args    strings.Builder
	started bool
}

// streamTurn runs one LLM stream, forwarding thought, text, and tool-call
// fragments as updates while accumulating the complete turn. A stream that
// emits nothing for InactivityTimeout is aborted.
func (b *Brain) streamTurn(ctx context.Context, req llm.CompletionRequest, msgID string, turn int, out chan<- Update) (*turnResult, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := b.llm.StreamCompletion(streamCtx, req)
	if err != nil {
		return nil, fmt.Errorf("brain: start stream: %w", err)
	}

	idle := time.NewTimer(b.cfg.InactivityTimeout)
	defer idle.Stop()

	var text strings.Builder
	var accums []*callAccum
	ensure := func(i int) *callAccum {
		for len(accums) <= i {
			accums = append(accums, &callAccum{})
		}
		return accums[i]
	}

	for {
		select {
		case <-ctx.Done():
			cancel()
			for range ch {
			}
			return nil, ctx.Err()

		case <-idle.C:
			cancel()
			for range ch {
			}
			return nil, fmt.Errorf("brain: no output for %s", b.cfg.InactivityTimeout)

		case chunk, ok := <-ch:
			if !ok {
				res := &turnResult{text: text.String()}
				for i, a := range accums {
					if a.name == "" {
						continue
					}
					id := a.id
					if id == "" {
						id = fmt.Sprintf("call_%d_%d", turn, i)
					}
					res.calls = append(res.calls, types.ToolCall{
						ID:        id,
						Name:      a.name,
						Arguments: a.args.String(),
					})
				}
				return res, nil
			}

			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(b.cfg.InactivityTimeout)

			if chunk.Thought != "" {
				b.emit(ctx, out, Update{Kind: UpdateThought, MsgID: msgID, Turn: turn, Delta: chunk.Thought})
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				b.emit(ctx, out, Update{Kind: UpdateText, MsgID: msgID, Turn: turn, Delta: chunk.Text})
			}
			for _, d := range chunk.ToolCalls {
				a := ensure(d.Index)
				if d.ID != "" {
					a.id = d.ID
				}
				if d.Name != "" {
					a.name = d.Name
				}
				if !a.started && a.name != "" {
					a.started = true
					b.emit(ctx, out, Update{
						Kind:   UpdateToolCallStart,
						MsgID:  msgID,
						Turn:   turn,
						Index:  d.Index,
						Name:   a.name,
						Status: StatusCalling,
					})
				}
				if d.ArgsDelta != "" {
					a.args.WriteString(d.ArgsDelta)
					b.emit(ctx, out, Update{
						Kind:   UpdateToolCallArgs,
						MsgID:  msgID,
						Turn:   turn,
						Index:  d.Index,
						Delta:  d.ArgsDelta,
						Status: StatusCalling,
					})
				}
			}
			if chunk.FinishReason == llm.FinishError {
				cancel()
				for range ch {
				}
				return nil, errors.New(chunk.Text)
			}
		}
	}
}

// invoke repairs the call's argument JSON and runs it through the registry.
// Every failure mode becomes an error result fed back to the model; a broken
// tool call never aborts the reply.
func (b *Brain) invoke(ctx context.Context, call types.ToolCall) (content, status string) {
	args := strings.TrimSpace(call.Arguments)
	if args != "" {
		repaired, err := jsonrepair.JSONRepair(args)
		if err != nil {
			b.cfg.Metrics.RecordToolCall(ctx, call.Name, StatusError)
			return fmt.Sprintf("invalid arguments for %s: %v", call.Name, err), StatusError
		}
		args = repaired
	}

	tctx, cancel := context.WithTimeout(ctx, b.cfg.ToolTimeout)
	defer cancel()

	start := time.Now()
	result, err := b.tools.Invoke(tctx, call.Name, args)
	elapsed := time.Since(start)
	b.cfg.Metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("tool", call.Name)))
	if err != nil {
		b.cfg.Metrics.RecordToolCall(ctx, call.Name, StatusError)
		b.logger.Warn("tool failed", "tool", call.Name, "elapsed", elapsed, "err", err)
		return err.Error(), StatusError
	}
	b.cfg.Metrics.RecordToolCall(ctx, call.Name, StatusSuccess)
	b.logger.Debug("tool completed", "tool", call.Name, "elapsed", elapsed)
	return result, StatusSuccess
}

// replyLanguage picks the language the spoken reply should use: the last user
// item's detected language, or the configured default when unknown.
func (b *Brain) replyLanguage() types.Language {
	lang := b.hist.LastUserLanguage()
	if lang == types.LanguageChinese || lang == types.LanguageEnglish {
		return lang
	}
	return b.cfg.DefaultLanguage
}

func (b *Brain) emit(ctx context.Context, out chan<- Update, u Update) {
	select {
	case out <- u:
	case <-ctx.Done():
	}
}

// newMsgID returns a fresh reply identifier like "assistant_3fa85f64".
func newMsgID() string {
	return "assistant_" + uuid.NewString()[:8]
}

// truncateForClient caps tool result content mirrored to the client.
func truncateForClient(s string) string {
	runes := []rune(s)
	if len(runes) <= clientContentLimit {
		return s
	}
	return string(runes[:clientContentLimit]) + "..."
}
