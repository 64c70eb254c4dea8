// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package registry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

// Status labels for registry metrics.
const (
	StatusSuccess   = "success"
	StatusConflict  = "conflict"
	StatusNotFound  = "not_found"
	StatusAmbiguous = "ambiguous"
	StatusError     = "error"
)

// Entries is the gauge of registered entries per contract.
// Use RegisterMetrics to register this with a Prometheus registry.
var Entries = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "wingedbean_registry_entries",
		Help: "Number of registered implementations per contract",
	},
	[]string{"contract"},
)

// Registrations is the counter of registration attempts.
// Use RegisterMetrics to register this with a Prometheus registry.
var Registrations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wingedbean_registry_registrations_total",
		Help: "Total number of registration attempts",
	},
	[]string{"contract", "status"},
)

// Resolutions is the counter of contract resolutions.
// Use RegisterMetrics to register this with a Prometheus registry.
var Resolutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wingedbean_registry_resolutions_total",
		Help: "Total number of contract resolutions",
	},
	[]string{"policy", "status"},
)

// RegisterMetrics registers registry metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Entries)
	reg.MustRegister(Registrations)
	reg.MustRegister(Resolutions)
}

func setEntryGauge(id contract.ID, n int) {
	if n == 0 {
		Entries.DeleteLabelValues(string(id))
		return
	}
	Entries.WithLabelValues(string(id)).Set(float64(n))
}

func recordRegistration(id contract.ID, status string) {
	Registrations.WithLabelValues(string(id), status).Inc()
}

func recordResolution(policy Policy, err error) {
	status := StatusSuccess
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		status = StatusNotFound
	case errors.Is(err, ErrAmbiguous):
		status = StatusAmbiguous
	default:
		status = StatusError
	}
	Resolutions.WithLabelValues(policy.String(), status).Inc()
}
