package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register. Helpers
// below no-op until Register succeeds so library embedding stays opt-in.
var (
	regOK atomic.Bool

	unitSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackd",
			Subsystem: "unit",
			Name:      "spawns_total",
			Help:      "Number of successful unit spawns.",
		}, []string{"name"},
	)
	unitSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackd",
			Subsystem: "unit",
			Name:      "spawn_failures_total",
			Help:      "Number of failed unit spawn attempts.",
		}, []string{"name"},
	)
	unitStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackd",
			Subsystem: "unit",
			Name:      "stops_total",
			Help:      "Number of unit terminations, graceful or killed.",
		}, []string{"name"},
	)
	unitKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackd",
			Subsystem: "unit",
			Name:      "kill_escalations_total",
			Help:      "Number of terminations that escalated to SIGKILL.",
		}, []string{"name"},
	)
	unitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackd",
			Subsystem: "unit",
			Name:      "state",
			Help:      "Current unit state (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stackd",
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Readiness probe round-trip time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name", "outcome"},
	)
)

var knownStates = []string{"starting", "healthy", "degraded", "unhealthy", "stopping", "stopped", "failed"}

// Register registers all collectors with r. Safe to call multiple times;
// calls after the first success are no-ops, and collectors already present
// in the registry are tolerated.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{unitSpawns, unitSpawnFailures, unitStops, unitKills, unitState, probeDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer; the embedded status server mounts it.
func Handler() http.Handler { return promhttp.Handler() }

func IncSpawn(name string) {
	if regOK.Load() {
		unitSpawns.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		unitSpawnFailures.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		unitStops.WithLabelValues(name).Inc()
	}
}

func IncKillEscalation(name string) {
	if regOK.Load() {
		unitKills.WithLabelValues(name).Inc()
	}
}

// SetUnitState marks state active for name and clears the other states.
func SetUnitState(name, state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		unitState.WithLabelValues(name, s).Set(v)
	}
}

func ObserveProbe(name string, seconds float64, ok bool) {
	if !regOK.Load() {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	probeDuration.WithLabelValues(name, outcome).Observe(seconds)
}
