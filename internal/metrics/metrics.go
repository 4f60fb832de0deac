// Package metrics exposes Prometheus collectors for the dispatch service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsTotal         *prometheus.CounterVec
	publishesTotal      *prometheus.CounterVec
	protocolErrorsTotal prometheus.Counter
	publishFailures     *prometheus.CounterVec
	identityPoolSize    prometheus.Gauge

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		eventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_events_total",
				Help: "Total inbound events routed, labeled by command, status and outcome.",
			},
			[]string{"command", "status", "outcome"},
		)

		publishesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_publishes_total",
				Help: "Total outbound publishes, labeled by queue.",
			},
			[]string{"queue"},
		)

		protocolErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dispatch_protocol_errors_total",
				Help: "Total inbound messages dropped as structurally invalid.",
			},
		)

		publishFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_publish_failures_total",
				Help: "Total publish failures surfaced to the router, labeled by queue.",
			},
			[]string{"queue"},
		)

		identityPoolSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_identity_pool_size",
				Help: "Current size of the local identity rotation pool.",
			},
		)
	})
}

// ObserveEvent records one routed inbound event.
func ObserveEvent(command, status, outcome string) {
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(command, status, outcome).Inc()
	}
}

// ObservePublish records one successful outbound publish.
func ObservePublish(queue string) {
	if publishesTotal != nil {
		publishesTotal.WithLabelValues(queue).Inc()
	}
}

// ObserveProtocolError records one dropped invalid message.
func ObserveProtocolError() {
	if protocolErrorsTotal != nil {
		protocolErrorsTotal.Inc()
	}
}

// ObservePublishFailure records one surfaced publish failure.
func ObservePublishFailure(queue string) {
	if publishFailures != nil {
		publishFailures.WithLabelValues(queue).Inc()
	}
}

// SetIdentityPoolSize reports the local identity pool occupancy.
func SetIdentityPoolSize(n int) {
	if identityPoolSize != nil {
		identityPoolSize.Set(float64(n))
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
