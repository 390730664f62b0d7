// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package module

import "github.com/prometheus/client_golang/prometheus"

// moduleLoads counts plugin module loads across all caches.
var moduleLoads = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "keyfort_module_loads_total",
		Help: "Total number of plugin module loads",
	},
)

// RegisterMetrics registers module package metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(moduleLoads)
}
