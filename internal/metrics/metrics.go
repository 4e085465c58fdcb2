// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts handled HTTP requests by route, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// WorkItemsCreatedTotal counts registered cases by urgency.
	WorkItemsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "work_items_created_total",
			Help: "Total number of work items registered.",
		},
		[]string{"urgency"},
	)

	// OffersDispatchedTotal counts offers opened.
	OffersDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offers_dispatched_total",
			Help: "Total number of offers opened.",
		},
	)

	// OfferResolutionsTotal counts closed offers by outcome (accepted, declined, timeout).
	OfferResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offer_resolutions_total",
			Help: "Total number of offers resolved, by outcome.",
		},
		[]string{"outcome"},
	)

	// LostRacesTotal counts conditional updates that found the offer already resolved.
	LostRacesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offer_lost_races_total",
			Help: "Total number of responses or sweeps that lost the race for an offer.",
		},
		[]string{"source"},
	)

	// EscalationsTotal counts work items closed as ALL_DECLINED.
	EscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalations_total",
			Help: "Total number of work items escalated after the queue was exhausted.",
		},
	)

	// NotificationsTotal counts outbound messages by kind and result (queued, delivered, dropped, dead_lettered, retried).
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of outbound notifications, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// NotifierWorkers is the number of notifier workers registered in etcd.
	NotifierWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_workers",
			Help: "Number of notifier workers currently draining the shared outbox.",
		},
	)

	// SweepDuration observes how long each expiry sweep took.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of expired-offer sweeps.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// IsLeader marks whether this node currently runs the sweeper.
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "is_leader",
			Help: "Is this node currently the leader. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)
)
