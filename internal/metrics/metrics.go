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

	botStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisr",
			Subsystem: "bot",
			Name:      "starts_total",
			Help:      "Number of successful bot process starts.",
		}, []string{"bot"},
	)
	botStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisr",
			Subsystem: "bot",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"bot"},
	)
	botCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisr",
			Subsystem: "bot",
			Name:      "crashes_total",
			Help:      "Number of crashes detected by the health check.",
		}, []string{"bot"},
	)
	botAutoRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisr",
			Subsystem: "bot",
			Name:      "auto_restarts_total",
			Help:      "Number of automatic restarts after a crash.",
		}, []string{"bot"},
	)
	botStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisr",
			Subsystem: "bot",
			Name:      "start_failures_total",
			Help:      "Number of failed spawn attempts.",
		}, []string{"bot"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisr",
			Subsystem: "bot",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between bot states.",
		}, []string{"bot", "from", "to"},
	)

	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botvisr",
			Subsystem: "bot",
			Name:      "current_state",
			Help:      "Current state of bots (1 = current state, 0 = otherwise).",
		}, []string{"bot", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{botStarts, botStops, botCrashes, botAutoRestarts, botStartFailures, stateTransitions, currentStates}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by the supervisor to record metrics.
// They no-op if Register hasn't been called.

func IncStart(bot string) {
	if regOK.Load() {
		botStarts.WithLabelValues(bot).Inc()
	}
}

func IncStop(bot string) {
	if regOK.Load() {
		botStops.WithLabelValues(bot).Inc()
	}
}

func IncCrash(bot string) {
	if regOK.Load() {
		botCrashes.WithLabelValues(bot).Inc()
	}
}

func IncAutoRestart(bot string) {
	if regOK.Load() {
		botAutoRestarts.WithLabelValues(bot).Inc()
	}
}

func IncStartFailure(bot string) {
	if regOK.Load() {
		botStartFailures.WithLabelValues(bot).Inc()
	}
}

// RecordStateTransition counts from -> to and moves the current_state gauge.
func RecordStateTransition(bot, from, to string) {
	if !regOK.Load() || from == to {
		return
	}
	stateTransitions.WithLabelValues(bot, from, to).Inc()
	if from != "" {
		currentStates.WithLabelValues(bot, from).Set(0)
	}
	currentStates.WithLabelValues(bot, to).Set(1)
}

// ForgetBot drops every series labelled with bot, used when a record is deleted.
func ForgetBot(bot string) {
	if !regOK.Load() {
		return
	}
	l := prometheus.Labels{"bot": bot}
	for _, v := range []*prometheus.CounterVec{botStarts, botStops, botCrashes, botAutoRestarts, botStartFailures, stateTransitions} {
		v.DeletePartialMatch(l)
	}
	currentStates.DeletePartialMatch(l)
}
