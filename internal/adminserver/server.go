// Package adminserver implements the HTTP ops surface for raftbot: health
// checks, Prometheus scraping, and a small admin API protected by a static
// key for actions an operator would otherwise only reach via signal.
package adminserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/warraft/raftbot/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// ResyncFunc re-registers the bot's slash commands with Discord.
type ResyncFunc func(ctx context.Context) error

// SweepFunc runs one immediate pass of the stuck-job sweep across every
// pool.
type SweepFunc func(ctx context.Context)

// Deps holds all dependencies for the admin HTTP server.
type Deps struct {
	Metrics        *telemetry.Metrics // nil = no Prometheus metrics middleware
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	AdminKey       string             // empty = admin routes disabled
	Resync         ResyncFunc         // nil = resync-commands route disabled
	Sweep          SweepFunc          // nil = sweep route disabled
}

// New creates an http.Handler with every route and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	if deps.AdminKey != "" {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(s.requireAdminKey)
			if deps.Resync != nil {
				r.Post("/resync-commands", s.handleResyncCommands)
			}
			if deps.Sweep != nil {
				r.Post("/sweep", s.handleSweep)
			}
		})
	}

	return r
}

type server struct {
	deps Deps
}
