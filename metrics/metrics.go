// Package metrics exports the engine's Prometheus metrics. Collectors are
// registered with the default registry and served by the health server.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "dropwatch"

func init() {
	prometheus.MustRegister(
		probesTotal,
		reconnectsTotal,
		rotationsTotal,
		watchdogRestartsTotal,
		connectionLive,
		pushDisabled,
		logsReceivedTotal,
		logsDroppedTotal,
		notificationsTotal,
		priceLookupsTotal,
		pendingGroups,
	)
}

var (
	// probesTotal counts endpoint probes.
	// Labels:
	//   - kind: poll or push
	//   - healthy: probe outcome
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "endpoint_probes_total",
			Help:      "Endpoint probes by endpoint kind and outcome",
		},
		[]string{"kind", "healthy"},
	)

	reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "reconnects_total",
		Help:      "Reconnect sequences started",
	})

	rotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "endpoint_rotations_total",
		Help:      "Endpoint rotations performed",
	})

	watchdogRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "fatal_shutdowns_total",
		Help:      "Fatal shutdowns requested, by the watchdog or a resource ceiling",
	})

	connectionLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "connection_live",
		Help:      "1 while a verified connection is established",
	})

	pushDisabled = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "push_disabled",
		Help:      "1 while push mode is disabled after repeated subscription failures",
	})

	// logsReceivedTotal counts raw logs by ingestion mode (push or poll).
	logsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "logs_received_total",
			Help:      "Raw logs received from the event source",
		},
		[]string{"mode"},
	)

	// logsDroppedTotal counts logs discarded before aggregation.
	// Labels:
	//   - reason: duplicate, short_data, bad_emitter, not_transfer, decode, ...
	logsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "logs_dropped_total",
			Help:      "Logs dropped before aggregation, by reason",
		},
		[]string{"reason"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "notifications_total",
			Help:      "Notification delivery outcomes",
		},
		[]string{"result"},
	)

	priceLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "price_lookups_total",
			Help:      "Metadata and price cache lookups",
		},
		[]string{"cache", "result"},
	)

	pendingGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "pending_groups",
		Help:      "Transaction groups waiting to be flushed",
	})
)

// ProbeResult records one endpoint probe.
func ProbeResult(kind string, healthy bool) {
	probesTotal.WithLabelValues(kind, strconv.FormatBool(healthy)).Inc()
}

// Reconnect records the start of a reconnect sequence.
func Reconnect() {
	reconnectsTotal.Inc()
}

// Rotation records an endpoint rotation.
func Rotation() {
	rotationsTotal.Inc()
}

// FatalShutdown records a requested process restart.
func FatalShutdown() {
	watchdogRestartsTotal.Inc()
}

// SetLive sets the connection gauge.
func SetLive(live bool) {
	connectionLive.Set(boolGauge(live))
}

// SetPushDisabled sets the push gate gauge.
func SetPushDisabled(disabled bool) {
	pushDisabled.Set(boolGauge(disabled))
}

// LogReceived records a raw log from the given mode.
func LogReceived(mode string) {
	logsReceivedTotal.WithLabelValues(mode).Inc()
}

// LogDropped records a log discarded for reason.
func LogDropped(reason string) {
	logsDroppedTotal.WithLabelValues(reason).Inc()
}

// Notification records a delivery outcome: sent, failed or dropped.
func Notification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}

// PriceLookup records a cache lookup; cache is metadata or price.
func PriceLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	priceLookupsTotal.WithLabelValues(cache, result).Inc()
}

// SetPendingGroups sets the number of open transaction groups.
func SetPendingGroups(n int) {
	pendingGroups.Set(float64(n))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
