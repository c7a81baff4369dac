// Package metrics provides Prometheus metrics for the carts service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for CommandsTotal outcome.
const (
	OutcomeOK           = "ok"
	OutcomeInvalid      = "invalid"
	OutcomePersistError = "persist_error"
)

// Label values for DeliveriesTotal result.
const (
	DeliveryOK     = "ok"
	DeliveryFailed = "failed"
)

var (
	// Observers tracks currently registered observer connections.
	Observers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "carts",
		Subsystem: "registry",
		Name:      "observers",
		Help:      "Current number of registered observer connections.",
	})

	// BroadcastsTotal counts registry broadcasts by message type.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carts",
		Subsystem: "registry",
		Name:      "broadcasts_total",
		Help:      "Total number of broadcasts, by message type.",
	}, []string{"tipo"})

	// DeliveriesTotal counts per-observer sends by result. Failed sends remove
	// the observer.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carts",
		Subsystem: "registry",
		Name:      "deliveries_total",
		Help:      "Total number of per-observer sends, by result.",
	}, []string{"result"})

	// CommandsTotal counts pipeline commands by kind and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carts",
		Subsystem: "pipeline",
		Name:      "commands_total",
		Help:      "Total number of commands handled, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ActiveDevices tracks carts commanded recently enough not to be marked
	// stale.
	ActiveDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "carts",
		Subsystem: "presence",
		Name:      "active_devices",
		Help:      "Current number of carts that are not stale.",
	})

	// ExportedEventsTotal counts events written by the audit export, by destination.
	ExportedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carts",
		Subsystem: "export",
		Name:      "events_total",
		Help:      "Total number of events exported, by destination.",
	}, []string{"destination"})

	// HTTPRequestDuration observes HTTP request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "carts",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)
