package bridge

import "github.com/prometheus/client_golang/prometheus"

// Message kinds and failure reasons used as label values.
const (
	kindRequest      = "request"
	kindNotification = "notification"
	kindResponse     = "response"
	kindInvalid      = "invalid"

	reasonStatus    = "http_status"
	reasonTransport = "transport"
	reasonEmpty     = "empty_body"
)

type metrics struct {
	messages       *prometheus.CounterVec
	failures       *prometheus.CounterVec
	sessionChanges prometheus.Counter
	roundTrip      prometheus.Histogram
}

// newMetrics builds the bridge collectors and registers them on reg when
// reg is not nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "memrelay_bridge_messages_total", Help: "Messages read from the client by kind"},
			[]string{"kind"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "memrelay_bridge_upstream_failures_total", Help: "Forwarded messages that did not yield a usable reply"},
			[]string{"reason"},
		),
		sessionChanges: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "memrelay_bridge_session_changes_total", Help: "Times the upstream assigned a new session id"},
		),
		roundTrip: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "memrelay_bridge_roundtrip_seconds", Help: "Upstream HTTP round-trip durations", Buckets: prometheus.DefBuckets},
		),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.failures, m.sessionChanges, m.roundTrip)
	}
	return m
}
