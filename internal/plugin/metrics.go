// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Hook outcome labels.
const (
	HookSuccess   = "success"
	HookError     = "error"
	HookCancelled = "cancelled"
)

// Transitions is the counter of lifecycle transitions by target state.
// Use RegisterMetrics to register this with a Prometheus registry.
var Transitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wingedbean_plugin_transitions_total",
		Help: "Total number of plugin lifecycle transitions",
	},
	[]string{"plugin", "state"},
)

// HookDuration is the histogram of activation and deactivation hook durations.
// Use RegisterMetrics to register this with a Prometheus registry.
var HookDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "wingedbean_plugin_hook_duration_seconds",
		Help:    "Plugin lifecycle hook duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"plugin", "hook", "status"},
)

// RegisterMetrics registers plugin package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Transitions)
	reg.MustRegister(HookDuration)
}

func recordTransition(plugin string, to State) {
	Transitions.WithLabelValues(plugin, to.String()).Inc()
}

func recordHook(plugin, hook, status string, d time.Duration) {
	HookDuration.WithLabelValues(plugin, hook, status).Observe(d.Seconds())
}
