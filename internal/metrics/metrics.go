// Copyright 2025 Viewsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes per-index sync counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by all workers.
type Metrics struct {
	eventsReceived  *prometheus.CounterVec
	eventsProcessed *prometheus.CounterVec
	flushes         *prometheus.CounterVec
	flushFailures   *prometheus.CounterVec
	pendingOps      *prometheus.GaugeVec
	backpressure    *prometheus.GaugeVec
}

// New registers the sync collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewsync_events_received_total",
			Help: "Change events read from the source stream.",
		}, []string{"index"}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewsync_events_processed_total",
			Help: "Change events transformed and queued for the sink.",
		}, []string{"index"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewsync_flushes_total",
			Help: "Successful bulk flushes to the sink.",
		}, []string{"index"}),
		flushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewsync_flush_failures_total",
			Help: "Bulk flush attempts that returned an error.",
		}, []string{"index"}),
		pendingOps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "viewsync_pending_operations",
			Help: "Buffered operations not yet flushed, by kind.",
		}, []string{"index", "kind"}),
		backpressure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "viewsync_backpressure_active",
			Help: "1 while the pending buffer is above the high watermark.",
		}, []string{"index"}),
	}
	reg.MustRegister(
		m.eventsReceived,
		m.eventsProcessed,
		m.flushes,
		m.flushFailures,
		m.pendingOps,
		m.backpressure,
	)
	return m
}

// ForIndex scopes the collectors to one destination index.
func (m *Metrics) ForIndex(index string) *WorkerMetrics {
	return &WorkerMetrics{
		received:       m.eventsReceived.WithLabelValues(index),
		processed:      m.eventsProcessed.WithLabelValues(index),
		flushes:        m.flushes.WithLabelValues(index),
		flushFailures:  m.flushFailures.WithLabelValues(index),
		pendingUpserts: m.pendingOps.WithLabelValues(index, "upsert"),
		pendingDeletes: m.pendingOps.WithLabelValues(index, "delete"),
		backpressure:   m.backpressure.WithLabelValues(index),
	}
}

// WorkerMetrics is the per-worker view. All methods are nil-safe so workers
// can run without a registry, as tests do.
type WorkerMetrics struct {
	received       prometheus.Counter
	processed      prometheus.Counter
	flushes        prometheus.Counter
	flushFailures  prometheus.Counter
	pendingUpserts prometheus.Gauge
	pendingDeletes prometheus.Gauge
	backpressure   prometheus.Gauge
}

// IncReceived adds to the received-events counter.
func (w *WorkerMetrics) IncReceived(n int) {
	if w != nil {
		w.received.Add(float64(n))
	}
}

// IncProcessed adds to the processed-events counter.
func (w *WorkerMetrics) IncProcessed(n int) {
	if w != nil {
		w.processed.Add(float64(n))
	}
}

// IncFlushes records one successful flush.
func (w *WorkerMetrics) IncFlushes() {
	if w != nil {
		w.flushes.Inc()
	}
}

// IncFlushFailures records one failed flush attempt.
func (w *WorkerMetrics) IncFlushFailures() {
	if w != nil {
		w.flushFailures.Inc()
	}
}

// SetPending records the buffered operation counts.
func (w *WorkerMetrics) SetPending(upserts, deletes int) {
	if w != nil {
		w.pendingUpserts.Set(float64(upserts))
		w.pendingDeletes.Set(float64(deletes))
	}
}

// SetBackpressure records the watermark flag.
func (w *WorkerMetrics) SetBackpressure(active bool) {
	if w == nil {
		return
	}
	if active {
		w.backpressure.Set(1)
	} else {
		w.backpressure.Set(0)
	}
}
