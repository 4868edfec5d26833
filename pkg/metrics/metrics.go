// Package metrics exposes prometheus instrumentation for the import agent.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicketsProcessed counts processed tickets by outcome
	// (success, partial, pending, skipped, failed).
	TicketsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "importbot_tickets_processed_total",
		Help: "Tickets processed, labeled by outcome.",
	}, []string{"outcome"})

	// TicketSeconds observes per-ticket processing time.
	TicketSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "importbot_ticket_processing_seconds",
		Help:    "Wall time spent processing one ticket.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// LLMRequests counts LLM task invocations by task and status.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "importbot_llm_requests_total",
		Help: "LLM task invocations, labeled by task and status (ok/error/rejected).",
	}, []string{"task", "status"})

	// TrackerRequests counts tracker API calls by operation and status.
	TrackerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "importbot_tracker_requests_total",
		Help: "Tracker API calls, labeled by operation and status (ok/error).",
	}, []string{"op", "status"})

	// UsersCreated counts users created in the backend.
	UsersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "importbot_backend_users_created_total",
		Help: "Users created in the identity backend.",
	})

	// TeamsCreated counts teams created in the backend.
	TeamsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "importbot_backend_teams_created_total",
		Help: "Teams created in the identity backend.",
	})

	// BackendFailures counts per-item backend creation failures.
	BackendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "importbot_backend_failures_total",
		Help: "Per-item backend creation failures.",
	})
)

// Serve exposes /metrics on addr until ctx is cancelled. Used in watch mode.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
