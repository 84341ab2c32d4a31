// Package metrics exposes the pipeline's Prometheus counters. A nil
// *Metrics is a no-op so library code never needs a guard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	registry *prometheus.Registry

	reportsProcessed     *prometheus.CounterVec
	violationsCreated    *prometheus.CounterVec
	violationsMerged     *prometheus.CounterVec
	dedupChecks          *prometheus.CounterVec
	collaboratorFailures *prometheus.CounterVec
	batchDuration        prometheus.Histogram
}

// New builds the metrics set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		reportsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "reports_processed_total",
			Help:      "Reports finished by terminal status",
		}, []string{"status"}),
		violationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "violations_created_total",
			Help:      "New violation rows by type",
		}, []string{"type"}),
		violationsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "violations_merged_total",
			Help:      "Candidates absorbed into existing violations, by type",
		}, []string{"type"}),
		dedupChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "dedup_checks_total",
			Help:      "Duplicate checks by outcome",
		}, []string{"outcome"}),
		collaboratorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "collaborator_failures_total",
			Help:      "External service failures by collaborator",
		}, []string{"service"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of batch processing runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	registry.MustRegister(
		m.reportsProcessed,
		m.violationsCreated,
		m.violationsMerged,
		m.dedupChecks,
		m.collaboratorFailures,
		m.batchDuration,
	)

	return m
}

// Registry returns the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveReportProcessed(status string) {
	if m == nil {
		return
	}
	m.reportsProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveViolationCreated(violationType string) {
	if m == nil {
		return
	}
	m.violationsCreated.WithLabelValues(violationType).Inc()
}

func (m *Metrics) ObserveViolationMerged(violationType string) {
	if m == nil {
		return
	}
	m.violationsMerged.WithLabelValues(violationType).Inc()
}

func (m *Metrics) ObserveDedupCheck(hasDuplicates bool) {
	if m == nil {
		return
	}
	outcome := "unique"
	if hasDuplicates {
		outcome = "duplicate"
	}
	m.dedupChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCollaboratorFailure(service string) {
	if m == nil {
		return
	}
	m.collaboratorFailures.WithLabelValues(service).Inc()
}

func (m *Metrics) ObserveBatchDuration(seconds float64) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(seconds)
}
