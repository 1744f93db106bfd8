// Package server hosts the HTTP surface of Voxtail: the WebSocket endpoint
// that carries voice sessions, plus the health, readiness, and metrics
// routes. Each accepted connection gets its own [session.Session]; the
// [Manager] tracks them for id uniqueness and graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxtail/voxtail/internal/config"
	"github.com/voxtail/voxtail/internal/health"
	"github.com/voxtail/voxtail/internal/observe"
	"github.com/voxtail/voxtail/internal/session"
)

// shutdownTimeout bounds the drain of in-flight HTTP requests on shutdown.
const shutdownTimeout = 10 * time.Second

// Server accepts WebSocket sessions and serves the operational routes.
type Server struct {
	cfg      *config.Config
	deps     session.Deps
	logger   *slog.Logger
	metrics  *observe.Metrics
	sessions *Manager
	checkers []health.Checker
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCheckers registers readiness checks served on /readyz.
func WithCheckers(cs ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, cs...) }
}

// New creates a Server. The deps are the process-wide provider singletons
// shared by every session.
func New(cfg *config.Config, deps session.Deps, opts ...Option) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		sessions: NewManager(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.deps.Metrics == nil {
		s.deps.Metrics = s.metrics
	}
	return s
}

// Sessions returns the session manager, exposed for shutdown coordination.
func (s *Server) Sessions() *Manager {
	return s.sessions
}

// Handler builds the route tree. The operational routes go through the
// metrics middleware; the WebSocket route is served bare because the upgrade
// hijacks the connection.
func (s *Server) Handler() http.Handler {
	ops := http.NewServeMux()
	health.New(s.checkers...).Register(ops)
	ops.Handle("GET /metrics", promhttp.Handler())

	mux := http.NewServeMux()
	mux.Handle("/", observe.Middleware(s.metrics)(ops))
	mux.HandleFunc("GET /ws/{session_id}", s.handleWS)
	return mux
}

// Run serves HTTP until ctx is cancelled, then closes all live sessions and
// drains the listener.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.sessions.CloseAll()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// handleWS upgrades the connection and runs one session for its lifetime.
// A duplicate session id is rejected with a policy-violation close so the
// original session keeps its resources.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "session_id", id, "err", err)
		return
	}

	sess, err := session.New(id, c, s.cfg, s.deps)
	if err != nil {
		s.logger.Error("session setup failed", "session_id", id, "err", err)
		_ = c.Close(websocket.StatusInternalError, "setup failed")
		return
	}

	if err := s.sessions.Add(sess); err != nil {
		sess.Close()
		code := websocket.StatusPolicyViolation
		if errors.Is(err, ErrDraining) {
			code = websocket.StatusGoingAway
		}
		s.logger.Warn("session rejected", "session_id", id, "err", err)
		_ = c.Close(code, err.Error())
		return
	}
	defer s.sessions.Remove(id)

	s.metrics.ActiveSessions.Add(r.Context(), 1)
	defer s.metrics.ActiveSessions.Add(context.Background(), -1)

	if err := sess.Run(r.Context()); err != nil {
		s.logger.Warn("session ended with error", "session_id", id, "err", err)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}
