package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flacm"

// Metrics records role run outcomes. A nil *Metrics is valid and records
// nothing, so components can carry one unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	roleRuns        *prometheus.CounterVec
	roleDuration    *prometheus.HistogramVec
	filesReconciled *prometheus.CounterVec
	lastRun         prometheus.Gauge
}

// NewMetrics creates a metrics set on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		roleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "role_runs_total",
				Help:      "Total number of role runs by variant and outcome",
			},
			[]string{"variant", "outcome"},
		),
		roleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "role_run_duration_seconds",
				Help:      "Duration of a role run in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"variant"},
		),
		filesReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_reconciled_total",
				Help:      "Total number of manifest entries reconciled by type",
			},
			[]string{"type"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed role run",
			},
		),
	}

	registry.MustRegister(m.roleRuns, m.roleDuration, m.filesReconciled, m.lastRun)
	return m
}

// RecordRoleRun records one finished role run.
func (m *Metrics) RecordRoleRun(variant string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.roleRuns.WithLabelValues(variant, outcome).Inc()
	m.roleDuration.WithLabelValues(variant).Observe(duration.Seconds())
	m.lastRun.SetToCurrentTime()
}

// RecordFile records one reconciled manifest entry.
func (m *Metrics) RecordFile(fileType string) {
	if m == nil {
		return
	}
	m.filesReconciled.WithLabelValues(fileType).Inc()
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the current metrics in the text exposition format
// for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}
