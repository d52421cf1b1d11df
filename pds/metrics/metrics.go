// Package metrics exposes the prometheus instruments of the persona pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CompletionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pds_completion_attempts_total",
			Help: "Provider calls made by the completion client",
		},
		[]string{"model", "result"}, // result: success | retryable | fatal
	)

	CompletionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pds_completion_latency_seconds",
			Help:    "Latency of a single provider call in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	TaskOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pds_task_outcomes_total",
			Help: "Terminal states of persona tasks",
		},
		[]string{"operation", "outcome"}, // outcome: skip | failed | posted
	)

	DispatchedTasks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pds_dispatched_tasks_total",
			Help: "Persona reply tasks scheduled by the dispatcher",
		},
	)

	DuplicateClaims = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pds_dispatch_duplicate_claims_total",
			Help: "Persona/post pairs skipped because they were already claimed",
		},
	)

	InFlightTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pds_inflight_tasks",
			Help: "Persona tasks currently running",
		},
	)

	AnalysisCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pds_analysis_cache_hits_total",
			Help: "Post analyses served from cache",
		},
	)
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
