package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for transitions.
const (
	OutcomeOK                = "ok"
	OutcomeInvalidTransition = "invalid_transition"
	OutcomeForbidden         = "forbidden"
	OutcomeNotFound          = "not_found"
	OutcomeStoreUnavailable  = "store_unavailable"
)

var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions attempted, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Name:      "notifications_total",
			Help:      "Push events delivered, partitioned by event type.",
		},
		[]string{"type"},
	)

	notificationsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "andon",
			Name:      "notifications_suppressed_total",
			Help:      "Pop-ups suppressed by dedup or cooldown.",
		},
		[]string{"reason"},
	)

	reconcilePassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "andon",
			Name:      "reconcile_passes_total",
			Help:      "Fallback reconciliation passes executed.",
		},
	)

	reconcileEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "andon",
			Name:      "reconcile_events_total",
			Help:      "Events synthesized by the fallback reconciler.",
		},
	)
)

// Register attaches all collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		transitionsTotal,
		notificationsTotal,
		notificationsSuppressedTotal,
		reconcilePassesTotal,
		reconcileEventsTotal,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTransition records one attempted transition.
func ObserveTransition(kind, outcome string) {
	transitionsTotal.WithLabelValues(kind, outcome).Inc()
}

// NotificationSent records one delivered push event.
func NotificationSent(eventType string) {
	notificationsTotal.WithLabelValues(eventType).Inc()
}

// NotificationSuppressed records a pop-up dropped by dedup or cooldown.
func NotificationSuppressed(reason string) {
	notificationsSuppressedTotal.WithLabelValues(reason).Inc()
}

// ObserveReconcilePass records one reconciliation pass and how many
// events it synthesized.
func ObserveReconcilePass(events int) {
	reconcilePassesTotal.Inc()
	reconcileEventsTotal.Add(float64(events))
}
