// Package metrics holds the Prometheus collectors for the refresh and
// keep-alive sweeps.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respondentpro_sweep_runs_total",
			Help: "Total number of sweeps started, by sweep.",
		},
		[]string{"sweep"},
	)

	SweepOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respondentpro_sweep_outcomes_total",
			Help: "Total number of per-user sweep outcomes, by sweep and outcome.",
		},
		[]string{"sweep", "outcome"},
	)

	SweepDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "respondentpro_sweep_duration_seconds",
			Help:    "Duration of complete sweeps in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"sweep"},
	)

	UpstreamHidesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respondentpro_upstream_hides_total",
			Help: "Total number of auto-hide calls to the upstream API, by result.",
		},
		[]string{"result"},
	)
)

// Sweep names used as label values.
const (
	SweepCacheRefresh     = "cache_refresh"
	SweepAllUsersRefresh  = "all_users_refresh"
	SweepSessionKeepAlive = "session_keepalive"
)

// Collectors returns every collector in this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SweepRunsTotal,
		SweepOutcomesTotal,
		SweepDurationSeconds,
		UpstreamHidesTotal,
	}
}

// Register adds the collectors to reg. Collectors already registered with
// reg are skipped, so Register may be called more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
