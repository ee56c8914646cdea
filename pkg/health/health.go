// Package health exposes a small read-only HTTP endpoint with the
// bot's liveness and the machine's last known state. It exists for
// uptime probes and dashboards; all control stays in the chat.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/pcwarden/pcwarden/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout = 10 * time.Second

	// auditLimit caps the audit slice on /status.
	auditLimit = 20
)

// Server exposes the health HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.HealthConfig
	store      store.Store
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates the health server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.HealthConfig,
	st store.Store,
) Server {
	return &server{
		log:   log.WithField("component", "health"),
		cfg:   cfg,
		store: st,
	}
}

// Start binds the listener and serves in the background.
func (s *server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).
			Info("Health server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	return nil
}

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)

	return r
}

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// corsMiddleware returns a CORS handler configured from the health config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealthz reports process liveness.
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the /status payload.
type statusResponse struct {
	PC    *store.PCStatus    `json:"pc"`
	Audit []store.AuditEntry `json:"audit"`
}

// handleStatus returns the machine's last known state plus the most
// recent audit entries.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{}

	pc, err := s.store.PCStatus(r.Context())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.WithError(err).Warn("Failed to load machine status")

		writeJSON(w, http.StatusInternalServerError,
			map[string]string{"error": "loading machine status"})

		return
	}

	resp.PC = pc

	audit, err := s.store.RecentAudit(r.Context(), auditLimit)
	if err != nil {
		s.log.WithError(err).Warn("Failed to load audit entries")

		writeJSON(w, http.StatusInternalServerError,
			map[string]string{"error": "loading audit entries"})

		return
	}

	resp.Audit = audit

	writeJSON(w, http.StatusOK, resp)
}
