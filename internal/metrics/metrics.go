package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	instanceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftd",
			Subsystem: "instance",
			Name:      "starts_total",
			Help:      "Number of successful instance process spawns.",
		}, []string{"id"},
	)
	instanceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftd",
			Subsystem: "instance",
			Name:      "stops_total",
			Help:      "Number of graceful-stop requests written.",
		}, []string{"id"},
	)
	instanceExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftd",
			Subsystem: "instance",
			Name:      "exits_total",
			Help:      "Number of observed process exits.",
		}, []string{"id"},
	)
	commandWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftd",
			Subsystem: "instance",
			Name:      "command_writes_total",
			Help:      "Number of operator command lines written to stdin.",
		}, []string{"id"},
	)
	runningInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "craftd",
			Subsystem: "instance",
			Name:      "running",
			Help:      "Current number of live instance processes.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{instanceStarts, instanceStops, instanceExits, commandWrites, runningInstances}
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

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer; the caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(id string) {
	if regOK.Load() {
		instanceStarts.WithLabelValues(id).Inc()
	}
}

func IncStop(id string) {
	if regOK.Load() {
		instanceStops.WithLabelValues(id).Inc()
	}
}

func IncExit(id string) {
	if regOK.Load() {
		instanceExits.WithLabelValues(id).Inc()
	}
}

func IncCommand(id string) {
	if regOK.Load() {
		commandWrites.WithLabelValues(id).Inc()
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		runningInstances.Set(float64(n))
	}
}
