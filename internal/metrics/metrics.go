package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound provider webhook events by type",
		},
		[]string{"event_type"},
	)

	WebhookRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_rejected_total",
			Help: "Webhook requests rejected before routing",
		},
		[]string{"reason"},
	)

	LedgerApplicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_applications_total",
			Help: "Ledger operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	LedgerFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_failures_total",
			Help: "Ledger applications that failed and rely on re-delivery",
		},
	)

	DispatchDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_deliveries_total",
			Help: "Automation endpoint deliveries by outcome",
		},
		[]string{"outcome"},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time to settle all endpoint deliveries for one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	WebhookProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "Time from webhook receipt to response",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Register() {
	prometheus.MustRegister(WebhookEventsTotal)
	prometheus.MustRegister(WebhookRejectedTotal)
	prometheus.MustRegister(LedgerApplicationsTotal)
	prometheus.MustRegister(LedgerFailuresTotal)
	prometheus.MustRegister(DispatchDeliveriesTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(WebhookProcessingDuration)
}
