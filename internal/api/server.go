// Package api is the dashboard HTTP gateway: a read-mostly surface over
// the orchestrator, stores and logs, plus a small command set. It never
// drives the browser; commands only signal the orchestrator.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/metrics"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/orchestrator"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
)

// Server wraps the router and the http.Server lifecycle.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// Deps carries the gateway's collaborators.
type Deps struct {
	Runner       *orchestrator.Runner
	Scheduler    *orchestrator.Scheduler
	Standby      *rewards.Standby
	History      *state.HistoryStore
	Jobs         *state.JobStore
	Metrics      *metrics.Metrics
	AccountsPath string
	ReportsDir   string
	// Restart asks the host process to restart the orchestrator loop.
	Restart func()
}

// NewServer builds the gateway over its dependencies.
func NewServer(d Deps) *Server {
	h := &handlers{deps: d, startedAt: time.Now()}
	return &Server{handler: setupRoutes(h)}
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe starts serving on host:port and blocks.
func (s *Server) ListenAndServe(host string, port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func setupRoutes(h *handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080", "http://127.0.0.1:8080"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/accounts", h.accounts)
		r.Get("/logs", h.logs)
		r.Delete("/logs", h.clearLogs)
		r.Get("/history", h.history)
		r.Get("/memory", h.memory)
		r.Get("/reports", h.reports)

		if h.deps.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", h.deps.Metrics.Handler())
		}

		r.Get("/account-history", h.accountHistoryAll)
		r.Get("/account-history/{email}", h.accountHistory)
		r.Get("/account-stats/{email}", h.accountStats)

		r.Route("/stats", func(r chi.Router) {
			r.Get("/historical", h.statsHistorical)
			r.Get("/activity-breakdown", h.statsBreakdown)
			r.Get("/global", h.statsGlobal)
		})

		r.Post("/start", h.start)
		r.Post("/stop", h.stop)
		r.Post("/restart", h.restart)
		r.Post("/run-single", h.runSingle)
		r.Post("/account/{email}/reset", h.resetAccount)
		r.Post("/reset-state", h.resetState)

		// Config mutations would destroy operator comments in the files;
		// they are refused wholesale.
		r.Post("/config", h.configReadOnly)
		r.Put("/config", h.configReadOnly)
		r.Delete("/config", h.configReadOnly)
	})

	return r
}
