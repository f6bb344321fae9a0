// Package metrics provides Prometheus metrics for the publisher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the publisher. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Run metrics
	RunsTotal     *prometheus.CounterVec
	StageFailures *prometheus.CounterVec
	InFlightRuns  prometheus.Gauge

	// Timing metrics
	BuildDuration  *prometheus.HistogramVec
	UploadDuration *prometheus.HistogramVec
	WaitDuration   *prometheus.HistogramVec
	RunDuration    *prometheus.HistogramVec

	// Size metrics
	ExtractRows  *prometheus.HistogramVec
	ExtractBytes *prometheus.HistogramVec

	// Remote job metrics
	JobPolls *prometheus.CounterVec

	// Error metrics
	ArchiveErrors *prometheus.CounterVec
	HistoryErrors prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"` // standalone listener, e.g. ":9090"; empty serves on the API router
	Namespace string `yaml:"namespace"`
}

// New registers the publisher metrics with reg (prometheus.DefaultRegisterer
// when nil).
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "top10_publisher"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Publish runs by final status (success, failure, skipped)",
			},
			[]string{"dataset", "status"},
		),
		StageFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Publish runs that failed, by failing stage",
			},
			[]string{"dataset", "stage"},
		),
		InFlightRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_runs",
				Help:      "Number of publish runs currently executing",
			},
		),
		BuildDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extract_build_duration_seconds",
				Help:      "Time to build an extract file",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"dataset"},
		),
		UploadDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Time to stream an extract through an upload session",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"dataset"},
		),
		WaitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_wait_duration_seconds",
				Help:      "Time spent waiting for the remote job to finish",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
			},
			[]string{"dataset"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Total time of a publish run (generate to job outcome)",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
			},
			[]string{"dataset"},
		),
		ExtractRows: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extract_rows",
				Help:      "Number of rows per extract",
				Buckets:   prometheus.LinearBuckets(0, 5, 5),
			},
			[]string{"dataset"},
		),
		ExtractBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extract_bytes",
				Help:      "Size of extract files in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
			},
			[]string{"dataset"},
		),
		JobPolls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_polls_total",
				Help:      "Total number of remote job status polls",
			},
			[]string{"dataset"},
		),
		ArchiveErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_errors_total",
				Help:      "Total number of extract archive failures",
			},
			[]string{"backend"},
		),
		HistoryErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_errors_total",
				Help:      "Total number of publish history write failures",
			},
		),
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Dataset string
	Status  string
	Stage   string
	Backend string
}

// IncRuns increments the runs counter for l.Status.
func (m *Metrics) IncRuns(l Labels) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(l.Dataset, l.Status).Inc()
}

// IncStageFailures increments the failures counter for l.Stage.
func (m *Metrics) IncStageFailures(l Labels) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(l.Dataset, l.Stage).Inc()
}

// RunStarted increments the in-flight gauge and returns its decrement.
func (m *Metrics) RunStarted() func() {
	if m == nil {
		return func() {}
	}
	m.InFlightRuns.Inc()
	return m.InFlightRuns.Dec
}

// ObserveBuildDuration records the extract build time.
func (m *Metrics) ObserveBuildDuration(l Labels, seconds float64) {
	if m == nil {
		return
	}
	m.BuildDuration.WithLabelValues(l.Dataset).Observe(seconds)
}

// ObserveUploadDuration records the upload time.
func (m *Metrics) ObserveUploadDuration(l Labels, seconds float64) {
	if m == nil {
		return
	}
	m.UploadDuration.WithLabelValues(l.Dataset).Observe(seconds)
}

// ObserveWaitDuration records the job wait time.
func (m *Metrics) ObserveWaitDuration(l Labels, seconds float64) {
	if m == nil {
		return
	}
	m.WaitDuration.WithLabelValues(l.Dataset).Observe(seconds)
}

// ObserveRunDuration records the total run time.
func (m *Metrics) ObserveRunDuration(l Labels, seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(l.Dataset).Observe(seconds)
}

// ObserveExtract records the row count and byte size of an extract.
func (m *Metrics) ObserveExtract(l Labels, rows, bytes float64) {
	if m == nil {
		return
	}
	m.ExtractRows.WithLabelValues(l.Dataset).Observe(rows)
	m.ExtractBytes.WithLabelValues(l.Dataset).Observe(bytes)
}

// AddJobPolls adds to the job polls counter.
func (m *Metrics) AddJobPolls(l Labels, polls float64) {
	if m == nil {
		return
	}
	m.JobPolls.WithLabelValues(l.Dataset).Add(polls)
}

// IncArchiveErrors increments the archive errors counter.
func (m *Metrics) IncArchiveErrors(l Labels) {
	if m == nil {
		return
	}
	m.ArchiveErrors.WithLabelValues(l.Backend).Inc()
}

// IncHistoryErrors increments the history errors counter.
func (m *Metrics) IncHistoryErrors() {
	if m == nil {
		return
	}
	m.HistoryErrors.Inc()
}
