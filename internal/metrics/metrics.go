// Package metrics exposes Prometheus instrumentation for the flow
// pipeline and the analysis scheduler.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"segflow/internal/logger"
)

const namespace = "segflow"

// Metrics holds the instrument set shared across the process.
type Metrics struct {
	FlowsConsumed     *prometheus.CounterVec
	FlowsRejected     *prometheus.CounterVec
	SketchesTracked   prometheus.Gauge
	SketchesDropped   prometheus.Counter
	AnalysisRuns      *prometheus.CounterVec
	AnalysisDuration  prometheus.Histogram
	ClustersFound     prometheus.Gauge
	NoiseEndpoints    prometheus.Gauge
	PendingReview     prometheus.Gauge
	PolicyCells       prometheus.Gauge
	SnapshotsExported *prometheus.CounterVec
}

// New registers the instrument set on the default registry.
func New() *Metrics {
	return &Metrics{
		FlowsConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flows_consumed_total",
				Help:      "Flow records consumed from the input queue",
			},
			[]string{"source"},
		),
		FlowsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flows_rejected_total",
				Help:      "Flow records dropped during normalization",
			},
			[]string{"reason"},
		),
		SketchesTracked: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sketches_tracked",
				Help:      "Endpoint sketches currently held in the registry",
			},
		),
		SketchesDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sketches_dropped_total",
				Help:      "Sketches dropped for failing validation",
			},
		),
		AnalysisRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_runs_total",
				Help:      "Clustering analysis runs by outcome",
			},
			[]string{"outcome"},
		),
		AnalysisDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "Wall time of one full analysis run",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		ClustersFound: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clusters_found",
				Help:      "Clusters produced by the most recent run",
			},
		),
		NoiseEndpoints: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "noise_endpoints",
				Help:      "Endpoints left unclustered by the most recent run",
			},
		),
		PendingReview: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_review_endpoints",
				Help:      "Endpoints whose incremental assignment awaits review",
			},
		),
		PolicyCells: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "policy_cells",
				Help:      "Materialized policy matrix cells in the latest snapshot",
			},
		),
		SnapshotsExported: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_exported_total",
				Help:      "Cluster and policy snapshot exports by sink",
			},
			[]string{"kind", "sink"},
		),
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Metrics endpoint listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
