/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus collectors for the HTTP surface,
// the realtime hub, the control bridge and the thumbnail pipeline.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showglass_api_requests_total",
		Help: "Total HTTP requests by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "showglass_api_request_duration_seconds",
		Help:    "HTTP request latency by method, endpoint and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "showglass_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	HubConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "showglass_hub_connections",
		Help: "Connected websocket clients by role.",
	}, []string{"role"})

	TriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showglass_triggers_total",
		Help: "Accepted media triggers by source.",
	}, []string{"source"})

	TriggerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showglass_trigger_failures_total",
		Help: "Rejected media triggers by source.",
	}, []string{"source"})

	BridgeState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "showglass_bridge_state",
		Help: "Control bridge state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 exhausted).",
	})

	ThumbnailJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showglass_thumbnail_jobs_total",
		Help: "Thumbnail jobs by outcome (done, failed, skipped).",
	}, []string{"outcome"})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
