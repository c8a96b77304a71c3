// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package diag exposes an optional introspection HTTP surface for a
// running demuxer: Prometheus counters for manifest refreshes and
// fragment fetches, the live /loglevel endpoint the rest of the DASH-IF
// tooling carries, and a /status endpoint reporting each
// representation's current sequence number. None of this is on the
// packet-delivery path; it exists purely for operators running the
// demuxer as a long-lived client process.
package diag

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Eyevinn/godashdemux/pkg/demux"
	"github.com/Eyevinn/godashdemux/pkg/logging"
)

const service = "godashdemux"

var defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000}

// Metrics are the Prometheus collectors the demuxer updates as it
// fetches manifests and fragments.
type Metrics struct {
	ManifestFetches *prometheus.CounterVec
	ManifestLatency *prometheus.HistogramVec
	FragmentFetches *prometheus.CounterVec
	FragmentLatency *prometheus.HistogramVec
}

// NewMetrics registers a fresh set of collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ManifestFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "manifest_fetches_total",
			Help:        "Number of manifest fetch/refresh attempts, partitioned by outcome.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"outcome"}),
		ManifestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "manifest_fetch_duration_milliseconds",
			Help:        "Manifest fetch/refresh latency.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     defaultBuckets,
		}, []string{"outcome"}),
		FragmentFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fragment_fetches_total",
			Help:        "Number of fragment fetches, partitioned by representation and outcome.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"representation_id", "outcome"}),
		FragmentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "fragment_fetch_duration_milliseconds",
			Help:        "Fragment fetch latency.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     defaultBuckets,
		}, []string{"representation_id"}),
	}
	reg.MustRegister(m.ManifestFetches, m.ManifestLatency, m.FragmentFetches, m.FragmentLatency)
	return m
}

// ObserveManifestFetch records one manifest fetch/refresh's outcome and
// latency.
func (m *Metrics) ObserveManifestFetch(outcome string, d time.Duration) {
	m.ManifestFetches.WithLabelValues(outcome).Inc()
	m.ManifestLatency.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}

// ObserveFragmentFetch records one fragment fetch's outcome and latency.
func (m *Metrics) ObserveFragmentFetch(repID, outcome string, d time.Duration) {
	m.FragmentFetches.WithLabelValues(repID, outcome).Inc()
	m.FragmentLatency.WithLabelValues(repID).Observe(float64(d.Milliseconds()))
}

// Router builds the introspection HTTP surface: Prometheus's /metrics,
// the shared /loglevel GET/POST pair, and /status for the given
// Demuxer's current play position.
func Router(d *demux.Demuxer, reg *prometheus.Registry) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	for _, route := range logging.LogRoutes {
		r.Method(route.Method, route.Path, route.Handler)
	}
	r.Get("/status", statusHandler(d))
	return r
}

func statusHandler(d *demux.Demuxer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Status())
	}
}
