// Package ingest provides safe archive ingestion into a shared filesystem root.
// This file contains pipeline metrics.
package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives pipeline counters.
type Metrics interface {
	IncRuns(mode, result string)
	IncEntries(status string, n int)
	AddBytesWritten(n int64)
	ObserveRunDuration(mode string, seconds float64)
	IncFoldersRemoved()
}

// NoopMetrics implements Metrics without emitting anything.
type NoopMetrics struct{}

func (NoopMetrics) IncRuns(string, string)             {}
func (NoopMetrics) IncEntries(string, int)             {}
func (NoopMetrics) AddBytesWritten(int64)              {}
func (NoopMetrics) ObserveRunDuration(string, float64) {}
func (NoopMetrics) IncFoldersRemoved()                 {}

// PromMetrics implements Metrics backed by Prometheus collectors.
type PromMetrics struct {
	runs           *prometheus.CounterVec
	entries        *prometheus.CounterVec
	bytesWritten   prometheus.Counter
	runDuration    *prometheus.HistogramVec
	foldersRemoved prometheus.Counter
}

// NewPromMetrics creates PromMetrics and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPromMetrics(namespace string, reg prometheus.Registerer) (*PromMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PromMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingestion runs by overwrite mode and result",
		}, []string{"mode", "result"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_entries_total",
			Help:      "Archive entries by final status",
		}, []string{"status"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_bytes_written_total",
			Help:      "Bytes written to the extraction root",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_run_duration_seconds",
			Help:      "Ingestion run latency by overwrite mode",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		foldersRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_folders_removed_total",
			Help:      "Top-level folders removed in delete mode",
		}),
	}
	for _, c := range []prometheus.Collector{p.runs, p.entries, p.bytesWritten, p.runDuration, p.foldersRemoved} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PromMetrics) IncRuns(mode, result string) {
	p.runs.WithLabelValues(mode, result).Inc()
}

func (p *PromMetrics) IncEntries(status string, n int) {
	if n > 0 {
		p.entries.WithLabelValues(status).Add(float64(n))
	}
}

func (p *PromMetrics) AddBytesWritten(n int64) {
	if n > 0 {
		p.bytesWritten.Add(float64(n))
	}
}

func (p *PromMetrics) ObserveRunDuration(mode string, seconds float64) {
	p.runDuration.WithLabelValues(mode).Observe(seconds)
}

func (p *PromMetrics) IncFoldersRemoved() {
	p.foldersRemoved.Inc()
}
