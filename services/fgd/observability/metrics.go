// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the sync service.
//
// # Description
//
// Metrics are driven entirely by the event bus: the metrics collector
// subscribes to the sync-lifecycle event taxonomy and never reaches into
// orchestrator internals. Exposed via the /metrics endpoint for scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/afewell-hh/fgd-sync/services/fgd/bus"
	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// Namespace for all metrics.
const metricsNamespace = "fgd"

// SyncMetrics holds the Prometheus instruments for sync operations.
//
// # Fields
//
//   - SyncsStartedTotal: syncs requested, by trigger
//   - SyncsFinishedTotal: syncs reaching a terminal event, by outcome
//   - SyncDurationSeconds: wall-clock sync duration, by outcome
//   - ActiveSyncs: syncs currently between started and terminal events
//   - FilesProcessedTotal: per-file ingestion outcomes, by status
//   - DocumentsExtractedTotal: YAML documents parsed across all syncs
//   - DirectoryRepairsTotal: auto-repair passes applied
type SyncMetrics struct {
	SyncsStartedTotal   *prometheus.CounterVec
	SyncsFinishedTotal  *prometheus.CounterVec
	SyncDurationSeconds *prometheus.HistogramVec
	ActiveSyncs         prometheus.Gauge

	FilesProcessedTotal     *prometheus.CounterVec
	DocumentsExtractedTotal prometheus.Counter
	DirectoryRepairsTotal   prometheus.Counter

	mu      sync.Mutex
	started map[string]time.Time
}

// NewSyncMetrics creates and registers the instruments on the given
// registerer. Pass prometheus.DefaultRegisterer in production and a fresh
// registry in tests.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(reg)

	return &SyncMetrics{
		SyncsStartedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "syncs_started_total",
			Help:      "Sync operations requested, by trigger reason.",
		}, []string{"trigger"}),

		SyncsFinishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "syncs_finished_total",
			Help:      "Sync operations that reached a terminal event, by outcome.",
		}, []string{"outcome"}),

		SyncDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall-clock duration of sync operations.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),

		ActiveSyncs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_syncs",
			Help:      "Sync operations currently in flight.",
		}),

		FilesProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "files_processed_total",
			Help:      "Raw files processed by the ingestion pipeline, by status.",
		}, []string{"status"}),

		DocumentsExtractedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "documents_extracted_total",
			Help:      "YAML documents parsed across all files and syncs.",
		}),

		DirectoryRepairsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "directory_repairs_total",
			Help:      "Auto-repair passes applied to fabric directory trees.",
		}),

		started: make(map[string]time.Time),
	}
}

// Observe subscribes the collector to the event bus. Call once after the
// bus is built.
func (m *SyncMetrics) Observe(b *bus.Bus) {
	b.Subscribe(datatypes.EventSyncStarted, m.onStarted)
	b.Subscribe(datatypes.EventSyncCompleted, m.onFinished("completed"))
	b.Subscribe(datatypes.EventSyncFailed, m.onFinished("failed"))
	b.Subscribe(datatypes.EventFileProcessed, m.onFile)
	b.Subscribe(datatypes.EventFileFailed, m.onFile)
	b.Subscribe(datatypes.EventDirectoryRepaired, func(datatypes.Event) {
		m.DirectoryRepairsTotal.Inc()
	})
}

func (m *SyncMetrics) onStarted(ev datatypes.Event) {
	m.SyncsStartedTotal.WithLabelValues(ev.Payload["trigger"]).Inc()
	m.ActiveSyncs.Inc()

	m.mu.Lock()
	m.started[ev.CorrelationID] = ev.Timestamp
	m.mu.Unlock()
}

func (m *SyncMetrics) onFinished(outcome string) bus.Handler {
	return func(ev datatypes.Event) {
		label := outcome
		// sync.failed carries CANCELLED syncs too; label by actual state.
		if ev.Payload["state"] == string(datatypes.StateCancelled) {
			label = "cancelled"
		}
		m.SyncsFinishedTotal.WithLabelValues(label).Inc()
		m.ActiveSyncs.Dec()

		m.mu.Lock()
		startedAt, ok := m.started[ev.CorrelationID]
		delete(m.started, ev.CorrelationID)
		m.mu.Unlock()
		if ok {
			m.SyncDurationSeconds.WithLabelValues(label).
				Observe(ev.Timestamp.Sub(startedAt).Seconds())
		}
	}
}

func (m *SyncMetrics) onFile(ev datatypes.Event) {
	m.FilesProcessedTotal.WithLabelValues(ev.Payload["status"]).Inc()
	if n, err := strconv.Atoi(ev.Payload["documents"]); err == nil {
		m.DocumentsExtractedTotal.Add(float64(n))
	}
}
