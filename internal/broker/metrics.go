// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package broker

import "github.com/prometheus/client_golang/prometheus"

// sessionsOpened counts successfully opened sessions.
// Use RegisterMetrics to register this with a Prometheus registry.
var sessionsOpened = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "keyfort_sessions_opened_total",
		Help: "Total number of DRM sessions opened",
	},
)

// sessionsClosed counts successfully closed sessions.
var sessionsClosed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "keyfort_sessions_closed_total",
		Help: "Total number of DRM sessions closed",
	},
)

// reclaims counts reclamation attempts by outcome (evicted or none).
var reclaims = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keyfort_session_reclaims_total",
		Help: "Total number of session reclamation attempts by outcome",
	},
	[]string{"outcome"},
)

// notifications counts listener notifications by kind.
var notifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keyfort_notifications_total",
		Help: "Total number of listener notifications delivered by kind",
	},
	[]string{"kind"},
)

// RegisterMetrics registers broker package metrics with the given registry.
// This must be called at startup to make metrics available on /metrics.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(sessionsOpened)
	reg.MustRegister(sessionsClosed)
	reg.MustRegister(reclaims)
	reg.MustRegister(notifications)
}
