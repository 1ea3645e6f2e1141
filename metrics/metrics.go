// Package metrics exposes prometheus collectors for the echostream runtime.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	rpcHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echostream",
			Subsystem: "rpc",
			Name:      "handled_total",
			Help:      "RPC requests handled locally, by handler and status code.",
		},
		[]string{"handler", "code"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "echostream",
			Subsystem: "rpc",
			Name:      "handle_duration_seconds",
			Help:      "RPC handler duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"handler"},
	)
	rpcOutbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echostream",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Outbound RPC requests by outcome (ok, remote_error, timeout, closed, error).",
		},
		[]string{"handler", "outcome"},
	)
	unmatchedResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "echostream",
			Subsystem: "rpc",
			Name:      "unmatched_responses_total",
			Help:      "Responses that matched no outstanding request.",
		},
	)
	liveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "echostream",
			Subsystem: "session",
			Name:      "connected",
			Help:      "Sessions currently connected.",
		},
	)
	streamAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echostream",
			Subsystem: "stream",
			Name:      "anomalies_total",
			Help:      "Stream frames whose seq regressed below the stream watermark.",
		},
		[]string{"handler"},
	)
	dispatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echostream",
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Failed event/stream handler or listener invocations.",
		},
		[]string{"kind"},
	)
)

// Register adds every collector to the default prometheus registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(rpcHandled, rpcDuration, rpcOutbound, unmatchedResponses,
			liveSessions, streamAnomalies, dispatchFailures)
	})
}

func RecordHandled(handler, code string, duration time.Duration) {
	rpcHandled.WithLabelValues(handler, code).Inc()
	rpcDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

func RecordOutbound(handler, outcome string) {
	rpcOutbound.WithLabelValues(handler, outcome).Inc()
}

func RecordUnmatchedResponse() {
	unmatchedResponses.Inc()
}

func SessionConnected() { liveSessions.Inc() }

func SessionDisconnected() { liveSessions.Dec() }

func RecordStreamAnomaly(handler string) {
	streamAnomalies.WithLabelValues(handler).Inc()
}

func RecordDispatchFailure(kind string) {
	dispatchFailures.WithLabelValues(kind).Inc()
}
