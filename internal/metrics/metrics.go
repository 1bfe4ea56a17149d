// Package metrics instruments indexing runs with Prometheus collectors on a
// private registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessionindex"

// Metrics holds the collectors for indexing runs. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	files        *prometheus.CounterVec
	removed      *prometheus.CounterVec
	pruned       *prometheus.CounterVec
	commitErrors *prometheus.CounterVec
	parseErrors  *prometheus.CounterVec
	toolIOBytes  prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Indexing runs by kind (refresh, full_build).",
		}, []string{"kind"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of indexing runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Change detector decisions per file by source and reason.",
		}, []string{"source", "reason"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removed_paths_total",
			Help:      "Paths whose sessions were removed because the file disappeared.",
		}, []string{"source"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_io_pruned_total",
			Help:      "Tool-IO documents pruned by stage (recency, byte_cap).",
		}, []string{"stage"}),
		commitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_errors_total",
			Help:      "Rolled back session commits.",
		}, []string{"source"}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Files that failed to parse.",
		}, []string{"source"}),
		toolIOBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tool_io_bytes",
			Help:      "Total tool-IO text bytes after the last retention pass.",
		}),
	}

	m.registry.MustRegister(
		m.runs, m.runDuration, m.files, m.removed, m.pruned,
		m.commitErrors, m.parseErrors, m.toolIOBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRun(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(kind).Inc()
	m.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) FileDecision(source, reason string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) Removed(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.removed.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) Pruned(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) CommitError(source string) {
	if m == nil {
		return
	}
	m.commitErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) ParseError(source string) {
	if m == nil {
		return
	}
	m.parseErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) SetToolIOBytes(n int64) {
	if m == nil {
		return
	}
	m.toolIOBytes.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
