// Package server exposes the assistant over HTTP: the invocation entrypoint,
// a session-based chat API, live stream logs and a websocket terminal.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/capture"
	"github.com/vinayprograms/biohacker/internal/chat"
	"github.com/vinayprograms/biohacker/internal/session"
	"github.com/vinayprograms/biohacker/internal/uploads"
	"golang.org/x/net/websocket"
)

// DefaultMaxUploadBytes bounds one multipart upload request.
const DefaultMaxUploadBytes = 64 << 20

// Options configures a Server.
type Options struct {
	Responder chat.Responder
	Sessions  *session.Manager
	Uploads   *uploads.Store

	// StreamDir holds per-invocation NDJSON logs written by the orchestrator.
	StreamDir string
	Tracker   *capture.Tracker

	MaxUploadBytes int64
	Logger         *logging.Logger
}

// Server serves the HTTP API.
type Server struct {
	responder chat.Responder
	sessions  *session.Manager
	uploads   *uploads.Store
	streamDir string
	tracker   *capture.Tracker
	maxUpload int64
	logger    *logging.Logger
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Responder == nil {
		return nil, errors.New("server needs a responder")
	}
	if opts.Sessions == nil {
		return nil, errors.New("server needs a session manager")
	}
	s := &Server{
		responder: opts.Responder,
		sessions:  opts.Sessions,
		uploads:   opts.Uploads,
		streamDir: opts.StreamDir,
		tracker:   opts.Tracker,
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger,
	}
	if s.tracker == nil {
		s.tracker = capture.NewTracker()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	if s.logger == nil {
		s.logger = logging.New().WithComponent("server")
	}
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /invocations", s.handleInvocation)

	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("POST /api/sessions", s.createSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.withSession(s.listMessages))
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.withSession(s.postMessage))
	mux.HandleFunc("GET /api/sessions/{id}/uploads", s.withSession(s.listUploads))
	mux.HandleFunc("POST /api/sessions/{id}/uploads", s.withSession(s.postUploads))
	mux.HandleFunc("GET /api/sessions/{id}/uploads/{n}/preview", s.withSession(s.previewUpload))
	mux.HandleFunc("POST /api/sessions/{id}/uploads/{n}/send", s.withSession(s.sendUpload))

	mux.HandleFunc("GET /api/streams/{id}", s.handleStream)
	mux.Handle("GET /pty", websocket.Handler(s.handlePTY))

	return withLogging(s.logger, mux)
}

// Serve runs the HTTP server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", map[string]interface{}{"addr": ln.Addr().String()})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// withLogging logs every request.
func withLogging(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}

// errorStatus maps an error kind to an HTTP status.
func errorStatus(err error) int {
	if errors.Is(err, agent.ErrEmptyPrompt) {
		return http.StatusBadRequest
	}
	switch agent.Classify(err) {
	case agent.KindTransient:
		return http.StatusGatewayTimeout
	case agent.KindPermissionDenied:
		return http.StatusForbidden
	case agent.KindNotFound:
		return http.StatusNotFound
	case agent.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

