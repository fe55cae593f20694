package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mechaenetia"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	ticks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Number of completed scheduler ticks.",
		},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent running all systems of one tick.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "local_server",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions of the local server.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "local_server",
			Name:      "current_state",
			Help:      "Current lifecycle state of the local server (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	loadingProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "local_server",
			Name:      "loading_progress",
			Help:      "Last broadcast loading progress in [0, 1].",
		},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "local_server",
			Name:      "commands_total",
			Help:      "Commands consumed by the local server, by command and outcome.",
		}, []string{"command", "result"},
	)
	saveLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "save",
			Name:      "load_or_create_total",
			Help:      "Save config load-or-create outcomes (existing, created, error).",
		}, []string{"outcome"},
	)

	shutdownDelays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "delays_total",
			Help:      "Number of cycles shutdown finalization was delayed by a subsystem vote.",
		},
	)
	historyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "events_total",
			Help:      "History events handed to sinks, by result.",
		}, []string{"result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times and with more than one registerer.
func Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{ticks, tickDuration, stateTransitions, currentState, loadingProgress, commands, saveLoads, shutdownDelays, historyEvents}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveTick(seconds float64) {
	if regOK.Load() {
		ticks.Inc()
		tickDuration.Observe(seconds)
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
		currentState.WithLabelValues(from).Set(0)
		currentState.WithLabelValues(to).Set(1)
	}
}

func SetLoadingProgress(p float64) {
	if regOK.Load() {
		loadingProgress.Set(p)
	}
}

func IncCommand(command, result string) {
	if regOK.Load() {
		commands.WithLabelValues(command, result).Inc()
	}
}

func IncSaveLoad(outcome string) {
	if regOK.Load() {
		saveLoads.WithLabelValues(outcome).Inc()
	}
}

func IncShutdownDelay() {
	if regOK.Load() {
		shutdownDelays.Inc()
	}
}

func IncHistoryEvent(result string) {
	if regOK.Load() {
		historyEvents.WithLabelValues(result).Inc()
	}
}
