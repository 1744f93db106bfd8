package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/voxtail/voxtail/internal/app"
	"github.com/voxtail/voxtail/internal/config"
	asrmock "github.com/voxtail/voxtail/pkg/provider/asr/mock"
	llmmock "github.com/voxtail/voxtail/pkg/provider/llm/mock"
	ttsmock "github.com/voxtail/voxtail/pkg/provider/tts/mock"
	vadmock "github.com/voxtail/voxtail/pkg/provider/vad/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestApp wires an App with every provider mocked so New never touches
// models, networks, or API keys.
func newTestApp(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, testLogger(),
		app.WithRecognizer(&asrmock.Recognizer{}),
		app.WithLLM(&llmmock.Provider{}),
		app.WithTTS(&ttsmock.Provider{}),
		app.WithVAD(&vadmock.Engine{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func toolNames(a *app.App) map[string]bool {
	names := make(map[string]bool)
	for _, def := range a.Tools().Catalog() {
		names[def.Name] = true
	}
	return names
}

func TestNewRegistersBuiltinTools(t *testing.T) {
	a := newTestApp(t, config.Default())

	names := toolNames(a)
	for _, want := range []string{"get_time", "calculate", "get_weather", "web_scraper"} {
		if !names[want] {
			t.Errorf("missing builtin tool %q, have %v", want, names)
		}
	}
	if names["web_search"] {
		t.Error("web_search must not be registered without a serper api key")
	}
}

func TestNewEnablesSearchWithKey(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.SerperAPIKey = "test-key"
	a := newTestApp(t, cfg)

	if !toolNames(a)["web_search"] {
		t.Error("web_search must be registered when a serper api key is set")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0 // ephemeral port
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment to come up, then stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want nil or context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	a := newTestApp(t, config.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
