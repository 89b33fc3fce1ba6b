// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the risk engine.
//
// # Description
//
// Metrics cover the engine's hot paths: derived-score recomputes, write
// rejections, full-model scans, scan-cache effectiveness, and report
// archive writes. Expose them via the application's /metrics endpoint;
// the engine itself performs no network I/O.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all engine metrics.
const metricsNamespace = "kodiak"

// Subsystem for risk engine metrics.
const engineSubsystem = "riskengine"

// Metrics holds all Prometheus metrics for the risk engine.
//
// Create one instance per registry via NewMetrics; passing a fresh
// registry in tests avoids duplicate-registration panics.
type Metrics struct {
	// RecomputesTotal counts contextual score recomputations.
	// Labels: status (ok, failed_closed)
	RecomputesTotal *prometheus.CounterVec

	// WritesTotal counts model write attempts.
	// Labels: record (entity, relationship, hazard, ...), status (ok, rejected)
	WritesTotal *prometheus.CounterVec

	// ScanDurationSeconds measures full-model scan latency.
	// Labels: kind (consistency, cascade)
	ScanDurationSeconds *prometheus.HistogramVec

	// ScanCacheHitsTotal counts scan-cache lookups.
	// Labels: kind, result (hit, miss)
	ScanCacheHitsTotal *prometheus.CounterVec

	// ArchiveWritesTotal counts report archive writes.
	// Labels: kind, status (ok, error)
	ArchiveWritesTotal *prometheus.CounterVec

	// ModelGeneration tracks the current model generation counter.
	ModelGeneration prometheus.Gauge
}

// NewMetrics creates and registers engine metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecomputesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "recomputes_total",
			Help:      "Contextual score recomputations by status.",
		}, []string{"status"}),
		WritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "writes_total",
			Help:      "Model write attempts by record type and status.",
		}, []string{"record", "status"}),
		ScanDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "scan_duration_seconds",
			Help:      "Full-model scan duration by scan kind.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"kind"}),
		ScanCacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "scan_cache_lookups_total",
			Help:      "Scan cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		ArchiveWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "archive_writes_total",
			Help:      "Report archive writes by kind and status.",
		}, []string{"kind", "status"}),
		ModelGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "model_generation",
			Help:      "Current model generation counter.",
		}),
	}
}

// ObserveRecompute records one recompute outcome. Nil-safe.
func (m *Metrics) ObserveRecompute(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed_closed"
	}
	m.RecomputesTotal.WithLabelValues(status).Inc()
}

// ObserveWrite records one model write outcome. Nil-safe.
func (m *Metrics) ObserveWrite(record string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "rejected"
	}
	m.WritesTotal.WithLabelValues(record, status).Inc()
}

// ObserveScan records a scan duration. Nil-safe.
func (m *Metrics) ObserveScan(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.ScanDurationSeconds.WithLabelValues(kind).Observe(seconds)
}

// ObserveCacheLookup records a scan-cache hit or miss. Nil-safe.
func (m *Metrics) ObserveCacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ScanCacheHitsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveArchiveWrite records one archive write outcome. Nil-safe.
func (m *Metrics) ObserveArchiveWrite(kind string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ArchiveWritesTotal.WithLabelValues(kind, status).Inc()
}

// SetGeneration updates the generation gauge. Nil-safe.
func (m *Metrics) SetGeneration(gen uint64) {
	if m == nil {
		return
	}
	m.ModelGeneration.Set(float64(gen))
}
