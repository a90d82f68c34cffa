package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resource_lock_wait_seconds",
			Help:    "Time spent waiting for a resource lock",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"scope"},
	)

	inventoryAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_adjustments_total",
			Help: "Remaining-ticket adjustments by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	bookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Booking status transitions",
		},
		[]string{"to"},
	)

	gatewayPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_polls_total",
			Help: "Payment gateway status checks by mapped status",
		},
		[]string{"status"},
	)

	fatalEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "core_fatal_events_total",
			Help: "Integrity violations and failures that need operator follow-up",
		},
		[]string{"code"},
	)

	moderationMerges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_merges_total",
			Help: "Merged change requests by resource kind and modification",
		},
		[]string{"kind", "modification"},
	)
)

// ObserveLockWait is shaped to plug into lock.WithWaitObserver.
func ObserveLockWait(key string, waited time.Duration) {
	lockWait.WithLabelValues(scope(key)).Observe(waited.Seconds())
}

func TrackAdjustment(delta int, err error) {
	direction := "increment"
	if delta < 0 {
		direction = "decrement"
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	inventoryAdjustments.WithLabelValues(direction, outcome).Inc()
}

func TrackTransition(to string) {
	bookingTransitions.WithLabelValues(to).Inc()
}

func TrackGatewayPoll(status string) {
	gatewayPolls.WithLabelValues(status).Inc()
}

func TrackFatal(code string) {
	fatalEvents.WithLabelValues(code).Inc()
}

func TrackMerge(kind, modification string) {
	moderationMerges.WithLabelValues(kind, modification).Inc()
}

// scope keeps label cardinality bounded: "occurrence:42" -> "occurrence".
func scope(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
