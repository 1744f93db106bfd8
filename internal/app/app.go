// Package app wires all Voxtail subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in reverse-init order.
//
// For testing, inject mock providers via functional options (WithLLM,
// WithRecognizer, etc.). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxtail/voxtail/internal/config"
	"github.com/voxtail/voxtail/internal/observe"
	"github.com/voxtail/voxtail/internal/server"
	"github.com/voxtail/voxtail/internal/session"
	"github.com/voxtail/voxtail/internal/tool"
	"github.com/voxtail/voxtail/internal/tool/builtin"
	"github.com/voxtail/voxtail/internal/tool/mcptool"
	"github.com/voxtail/voxtail/internal/transcript"
	"github.com/voxtail/voxtail/pkg/provider/asr"
	"github.com/voxtail/voxtail/pkg/provider/asr/whisper"
	"github.com/voxtail/voxtail/pkg/provider/llm"
	"github.com/voxtail/voxtail/pkg/provider/llm/anyllm"
	openaillm "github.com/voxtail/voxtail/pkg/provider/llm/openai"
	"github.com/voxtail/voxtail/pkg/provider/tts"
	"github.com/voxtail/voxtail/pkg/provider/tts/edge"
	"github.com/voxtail/voxtail/pkg/provider/vad"
	"github.com/voxtail/voxtail/pkg/provider/vad/energy"
)

// otelShutdownTimeout bounds the telemetry flush during Shutdown.
const otelShutdownTimeout = 5 * time.Second

// App owns the process-wide singletons and the HTTP server that shares them
// across sessions.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	deps session.Deps
	srv  *server.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecognizer injects an ASR recognizer instead of loading whisper.
func WithRecognizer(r asr.Recognizer) Option {
	return func(a *App) { a.deps.Recognizer = r }
}

// WithLLM injects an LLM provider instead of creating one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.deps.LLM = p }
}

// WithTTS injects a TTS provider instead of the edge synthesizer.
func WithTTS(p tts.Provider) Option {
	return func(a *App) { a.deps.TTS = p }
}

// WithVAD injects a VAD engine instead of the energy detector.
func WithVAD(e vad.Engine) Option {
	return func(a *App) { a.deps.VAD = e }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: telemetry, the ASR
// model, the LLM client, the TTS engine, the VAD engine, the tool registry
// (builtins plus MCP servers), and the HTTP server that hands them to each
// session.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}
	a.deps.Logger = logger
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		fctx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		return otelShutdown(fctx)
	})

	// ── 2. ASR ───────────────────────────────────────────────────────────
	if a.deps.Recognizer == nil {
		rec, err := whisper.New(cfg.ASR.ModelDir, cfg.ASR.ModelSize,
			whisper.WithLanguage(cfg.ASR.Language),
			whisper.WithWorkers(cfg.ASR.Workers),
		)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: load whisper model: %w", err)
		}
		a.deps.Recognizer = rec
		a.closers = append(a.closers, rec.Close)
	}

	// ── 3. LLM ───────────────────────────────────────────────────────────
	if a.deps.LLM == nil {
		p, err := buildLLM(cfg.LLM)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init llm: %w", err)
		}
		a.deps.LLM = p
	}

	// ── 4. TTS + VAD ─────────────────────────────────────────────────────
	if a.deps.TTS == nil {
		a.deps.TTS = edge.New()
	}
	if a.deps.VAD == nil {
		a.deps.VAD = energy.NewEngine()
	}

	// ── 5. Transcript corrector ──────────────────────────────────────────
	if len(cfg.Transcript.Hotwords) > 0 {
		a.deps.Corrector = transcript.New(cfg.Transcript.Hotwords)
	}

	// ── 6. Tools ─────────────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 7. System prompt override ────────────────────────────────────────
	prompt, err := cfg.SystemPrompt()
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.deps.SystemPrompt = prompt

	a.srv = server.New(cfg, a.deps)
	return a, nil
}

// buildLLM constructs the reasoning provider from config. "openai" covers
// every OpenAI-compatible endpoint (including OpenRouter via base_url); other
// names go through any-llm.
func buildLLM(cfg config.LLMConfig) (llm.Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is required (set llm.api_key or LLM_API_KEY)")
	}

	if cfg.Provider == "" || cfg.Provider == "openai" {
		var opts []openaillm.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(cfg.BaseURL))
		}
		return openaillm.New(cfg.APIKey, cfg.Model, opts...)
	}

	opts := []anyllmlib.Option{anyllmlib.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	return anyllm.New(cfg.Provider, cfg.Model, opts...)
}

// initTools registers the builtin tools and connects configured MCP servers.
func (a *App) initTools(ctx context.Context) error {
	reg := tool.NewRegistry()

	builtins := []tool.Tool{
		&builtin.TimeTool{},
		&builtin.CalculateTool{},
		builtin.NewWeatherTool(""),
		builtin.NewScrapeTool(),
	}
	if key := a.cfg.Tools.SerperAPIKey; key != "" {
		search, err := builtin.NewSearchTool(key)
		if err != nil {
			return err
		}
		builtins = append(builtins, search)
	} else {
		a.logger.Info("web_search disabled: no serper api key")
	}
	for _, t := range builtins {
		if err := reg.Register(t); err != nil {
			return err
		}
	}

	if servers := a.cfg.Tools.MCPServers; len(servers) > 0 {
		conn := mcptool.NewConnector(a.logger)
		conn.ConnectAll(ctx, reg, servers)
		a.closers = append(a.closers, conn.Close)
	}

	a.deps.Tools = reg
	return nil
}

// Tools returns the process-wide tool registry.
func (a *App) Tools() *tool.Registry {
	return a.deps.Tools
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves until ctx is cancelled, then returns the server's shutdown
// result. Call Shutdown afterwards to release the providers.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("voxtail running",
		"addr", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		"llm_provider", a.cfg.LLM.Provider,
		"llm_model", a.cfg.LLM.Model,
		"asr_model", a.cfg.ASR.ModelSize,
		"tts_engine", a.cfg.TTS.Engine,
		"default_language", a.cfg.DefaultLanguage,
		"tools", a.deps.Tools.Len(),
	)
	return a.srv.Run(ctx)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases already-created resources when New fails partway.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
