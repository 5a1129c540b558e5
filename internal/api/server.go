// Package api is the HTTP surface of the daemon: query accessors, commands,
// OS signal inputs, the event stream and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	types "github.com/sebas/softline/api/types/v1"
	"github.com/sebas/softline/internal/calllog"
	"github.com/sebas/softline/internal/engine"
	"github.com/sebas/softline/internal/platform"
	"github.com/sebas/softline/internal/session"
)

// Session is the part of a running session the API drives.
// Implemented by session.Orchestrator.
type Session interface {
	Snapshot() session.Snapshot
	Running() bool
	Connect() error
	Call(id string) error
	PickUp() error
	TerminateCall() error
	VerifyAuthToken(verified bool) error
	AcceptUnencryptedCall() error
	SetVolumes(v engine.Volumes) error
	TelephonyChanged(state platform.TelephonyState) error
}

// Sessions finds the current session and starts new ones.
type Sessions interface {
	// Current returns the running session.
	Current() (Session, bool)
	// Last returns the most recent session, running or not.
	Last() (Session, bool)
	// Start starts a session, or routes callID to the running one.
	Start(callID string) (Session, error)
}

// CallHistory provides the call log for the API.
// Implemented by calllog.Store.
type CallHistory interface {
	List(ctx context.Context, limit int) ([]calllog.Entry, error)
	CountMissed(ctx context.Context, since time.Time) (int, error)
}

// Config configures the API server.
type Config struct {
	Addr     string
	Sessions Sessions
	// History is optional; without it /api/v1/calls answers 404.
	History CallHistory
	// Events serves the websocket event stream; optional.
	Events http.Handler
	// CommandRate is the number of commands allowed per minute and client.
	CommandRate int
	Logger      *slog.Logger
}

// Server provides the HTTP API.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates the API server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = 120
	}
	s := &Server{
		cfg:       cfg,
		logger:    cfg.Logger,
		startTime: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/api/v1/call", s.handleCall)
	r.Get("/api/v1/connection", s.handleConnection)
	r.Get("/api/v1/calls", s.handleCallLog)
	if cfg.Events != nil {
		r.Handle("/api/v1/events", cfg.Events)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(cfg.CommandRate, time.Minute))

		r.Post("/api/v1/start", s.handleStart)
		r.Post("/api/v1/connect", s.handleConnect)
		r.Post("/api/v1/call", s.handlePlaceCall)
		r.Post("/api/v1/pickup", s.handlePickUp)
		r.Post("/api/v1/terminate", s.handleTerminate)
		r.Post("/api/v1/verify", s.handleVerify)
		r.Post("/api/v1/accept-unencrypted", s.handleAcceptUnencrypted)
		r.Post("/api/v1/volumes", s.handleVolumes)
		r.Post("/api/v1/telephony", s.handleTelephony)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, e.g. for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("[API] Starting HTTP API server", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("[API] Graceful shutdown failed", "error", err)
		_ = s.httpServer.Close()
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("[API] Server stopped")
	return nil
}

// rateLimit limits commands per client IP with a sliding window.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
		}),
	)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("[API] Request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode JSON", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// commandError maps a command error to a status code.
func commandError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotRunning) {
		writeError(w, http.StatusConflict, "no running session")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
