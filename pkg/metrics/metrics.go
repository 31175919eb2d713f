// Package metrics holds the master's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "amon",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amon",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "amon",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	eventsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "amon",
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Total number of events received from relays.",
		},
	)

	eventsSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "amon",
			Subsystem: "events",
			Name:      "suppressed_total",
			Help:      "Events suppressed by an active maintenance window.",
		},
	)

	eventsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "amon",
			Subsystem: "events",
			Name:      "failed_total",
			Help:      "Events that could not be routed.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amon",
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Notifications attempted, by medium and outcome.",
		},
		[]string{"medium", "outcome"},
	)

	configAlarms = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "amon",
			Subsystem: "notifications",
			Name:      "config_alarms_total",
			Help:      "Config alarms raised for unresolvable contacts.",
		},
	)

	maintenanceWindows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amon",
			Subsystem: "maintenance",
			Name:      "windows_total",
			Help:      "Maintenance window lifecycle events.",
		},
		[]string{"action"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpInFlight,
		httpRequests,
		httpDuration,
		eventsReceived,
		eventsSuppressed,
		eventsFailed,
		notifications,
		configAlarms,
		maintenanceWindows,
	)
}

// IncrementInFlight bumps the in-flight request gauge.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight drops the in-flight request gauge.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEventReceived counts one event off the wire.
func RecordEventReceived() { eventsReceived.Inc() }

// RecordEventSuppressed counts one maintenance suppression.
func RecordEventSuppressed() { eventsSuppressed.Inc() }

// RecordEventFailed counts one unroutable event.
func RecordEventFailed() { eventsFailed.Inc() }

// RecordNotification counts one notification attempt.
func RecordNotification(medium string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	notifications.WithLabelValues(medium, outcome).Inc()
}

// RecordConfigAlarm counts one config alarm.
func RecordConfigAlarm() { configAlarms.Inc() }

// RecordMaintenance counts a window lifecycle action: created, deleted or
// ended.
func RecordMaintenance(action string) {
	maintenanceWindows.WithLabelValues(action).Inc()
}
