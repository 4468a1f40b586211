// Package metrics exposes the prometheus instruments for the tracking
// loop. Everything registers against a private registry so repeated
// construction (tests, embedded use) never collides.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wonny/newstrace/backend/pkg/logger"
)

// Registry holds all prometheus metrics for the tracking loop
type Registry struct {
	registry *prometheus.Registry

	// Sweep metrics
	SweepDuration      prometheus.Histogram
	SweepTasks         *prometheus.CounterVec
	CheckpointsApplied *prometheus.CounterVec
	DrawdownAlerts     *prometheus.CounterVec

	// Task lifecycle metrics
	TasksOpened    prometheus.Counter
	TasksClosed    *prometheus.CounterVec
	TasksCancelled prometheus.Counter
	TasksFailed    prometheus.Counter

	// Feedback and evolution metrics
	FeedbackEmitted  prometheus.Counter
	FeedbackConsumed prometheus.Counter
	FeedbackRejected prometheus.Counter
	EvolutionCycles  *prometheus.CounterVec
	WeightClamps     prometheus.Counter
	FeatureWeight    *prometheus.GaugeVec
	StoreVersion     prometheus.Gauge

	// Rating metrics
	SourcesRated prometheus.Gauge

	// Quote provider metrics
	QuoteFetches *prometheus.CounterVec
}

// NewRegistry creates a registry with all tracking-loop metrics registered
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trace_sweep_duration_seconds",
				Help:    "Duration of one checkpoint sweep in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		SweepTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_sweep_tasks_total",
				Help: "Tasks processed by sweeps, by outcome",
			},
			[]string{"outcome"},
		),

		CheckpointsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_checkpoints_applied_total",
				Help: "Checkpoints recorded, by horizon and fill kind",
			},
			[]string{"horizon", "fill"},
		),

		DrawdownAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_drawdown_alerts_total",
				Help: "Early-warning drawdown alerts raised, by horizon",
			},
			[]string{"horizon"},
		),

		TasksOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_tasks_opened_total",
				Help: "Tracking tasks opened",
			},
		),

		TasksClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_tasks_closed_total",
				Help: "Tracking tasks closed, by horizon",
			},
			[]string{"horizon"},
		),

		TasksCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_tasks_cancelled_total",
				Help: "Tracking tasks cancelled",
			},
		),

		TasksFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_tasks_failed_total",
				Help: "Tasks that never established a T0 snapshot",
			},
		),

		FeedbackEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_feedback_emitted_total",
				Help: "Market feedback records emitted at task closes",
			},
		),

		FeedbackConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_feedback_consumed_total",
				Help: "Feedback records consumed by evolution cycles",
			},
		),

		FeedbackRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_feedback_rejected_total",
				Help: "Feedback records rejected for schema mismatch",
			},
		),

		EvolutionCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_evolution_cycles_total",
				Help: "Evolution cycles run, by result",
			},
			[]string{"result"},
		),

		WeightClamps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trace_weight_clamps_total",
				Help: "Weight updates clamped to the configured bounds",
			},
		),

		FeatureWeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trace_feature_weight",
				Help: "Current weight per feature",
			},
			[]string{"feature"},
		),

		StoreVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trace_weight_store_version",
				Help: "Current weight store version",
			},
		),

		SourcesRated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trace_sources_rated",
				Help: "Sources on the current rating board",
			},
		),

		QuoteFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trace_quote_fetches_total",
				Help: "Quote lookups, by outcome",
			},
			[]string{"outcome"},
		),
	}

	r.registry.MustRegister(
		r.SweepDuration,
		r.SweepTasks,
		r.CheckpointsApplied,
		r.DrawdownAlerts,
		r.TasksOpened,
		r.TasksClosed,
		r.TasksCancelled,
		r.TasksFailed,
		r.FeedbackEmitted,
		r.FeedbackConsumed,
		r.FeedbackRejected,
		r.EvolutionCycles,
		r.WeightClamps,
		r.FeatureWeight,
		r.StoreVersion,
		r.SourcesRated,
		r.QuoteFetches,
	)

	return r
}

// SetWeights refreshes the per-feature weight gauges and the store
// version gauge from a committed snapshot
func (r *Registry) SetWeights(version int64, weights map[string]float64) {
	r.StoreVersion.Set(float64(version))
	for feature, weight := range weights {
		r.FeatureWeight.WithLabelValues(feature).Set(weight)
	}
}

// Handler returns the scrape handler for this registry
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve runs a scrape endpoint on the given port until ctx is done
func (r *Registry) Serve(ctx context.Context, port string, log *logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Metrics server shutdown failed")
		}
	}()

	log.WithField("port", port).Info("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
