// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts committed lifecycle transitions by entity and target state.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agencyflow",
		Name:      "transitions_total",
		Help:      "Committed lifecycle transitions.",
	}, []string{"entity", "to"})

	// OutboxDispatched counts relay outcomes by topic and result (sent, retry, dead).
	OutboxDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agencyflow",
		Name:      "outbox_dispatched_total",
		Help:      "Outbox messages handled by the relay.",
	}, []string{"topic", "result"})

	CommissionPaidOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agencyflow",
		Name:      "commission_paid_out_total",
		Help:      "Sum of referral commission paid out.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agencyflow",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})
)

// Transition records a committed transition.
func Transition(entity, to string) {
	Transitions.WithLabelValues(entity, to).Inc()
}
