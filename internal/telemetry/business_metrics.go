package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for the reservation and checkout
// pipeline.
type BusinessMetrics struct {
	// Cart
	CartItemsAdded *prometheus.CounterVec
	CartMerges     *prometheus.CounterVec
	MergeDropped   prometheus.Counter

	// Stock and reservations
	StockRejections   *prometheus.CounterVec
	ReservationsSwept prometheus.Counter
	UnitsReleased     prometheus.Counter
	StoreRetries      *prometheus.CounterVec

	// Checkout funnel
	CheckoutTransitions *prometheus.CounterVec
	CheckoutAbandoned   prometheus.Counter
	CouponRedemptions   *prometheus.CounterVec
	PaymentSessions     *prometheus.CounterVec

	// Orders
	OrdersFinalized     *prometheus.CounterVec
	FinalizationsFailed *prometheus.CounterVec
	OrderValue          prometheus.Histogram
	OrderTransitions    *prometheus.CounterVec

	// Webhooks
	WebhookReceived   *prometheus.CounterVec
	WebhookProcessed  *prometheus.CounterVec
	WebhookDuplicates prometheus.Counter
	WebhookLatency    *prometheus.HistogramVec

	// Background jobs
	JobsProcessed *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	// External API performance
	StripeAPILatency    *prometheus.HistogramVec
	BreakerStateChanges *prometheus.CounterVec
}

// NewBusinessMetrics creates all business metrics and registers them on reg.
func NewBusinessMetrics(namespace string, reg prometheus.Registerer) *BusinessMetrics {
	if namespace == "" {
		namespace = "kaupa"
	}
	f := promauto.With(reg)

	subsystem := "business"

	m := &BusinessMetrics{
		// =======================================================================
		// Cart
		// =======================================================================
		CartItemsAdded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cart_items_added_total",
				Help:      "Total add to cart actions",
			},
			[]string{"owner_type"}, // owner_type: user, guest
		),
		CartMerges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cart_merges_total",
				Help:      "Guest to user cart merges",
			},
			[]string{"outcome"}, // outcome: merged, partial, empty
		),
		MergeDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cart_merge_dropped_lines_total",
				Help:      "Guest cart lines dropped during merge for lack of stock",
			},
		),

		// =======================================================================
		// Stock and reservations
		// =======================================================================
		StockRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stock_rejections_total",
				Help:      "Reserve attempts refused for insufficient stock",
			},
			[]string{"operation"}, // operation: add_item, update_quantity, merge, finalize
		),
		ReservationsSwept: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reservations_swept_total",
				Help:      "Expired reservations deleted by sweeps",
			},
		),
		UnitsReleased: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reservation_units_released_total",
				Help:      "Units returned to available stock by expiry sweeps",
			},
		),
		StoreRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "store_retries_total",
				Help:      "Operations retried after a transient store failure",
			},
			[]string{"operation"},
		),

		// =======================================================================
		// Checkout Funnel
		// =======================================================================
		CheckoutTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_transitions_total",
				Help:      "Checkout state transitions",
			},
			[]string{"from", "to"},
		),
		CheckoutAbandoned: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_abandoned_total",
				Help:      "Checkouts moved to abandoned by the expiry sweep",
			},
		),
		CouponRedemptions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "coupon_redemptions_total",
				Help:      "Coupon usage slot changes",
			},
			[]string{"status"}, // status: reserved, consumed, released
		),
		PaymentSessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_sessions_total",
				Help:      "Hosted payment session creation attempts",
			},
			[]string{"result"}, // result: created, failed, unavailable
		),

		// =======================================================================
		// Orders
		// =======================================================================
		OrdersFinalized: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "orders_finalized_total",
				Help:      "Orders created from confirmed payments",
			},
			[]string{"status"}, // status: paid, pending
		),
		FinalizationsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "finalizations_failed_total",
				Help:      "Confirmed payments that could not be converted into an order",
			},
			[]string{"reason"},
		),
		OrderValue: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_value_cents",
				Help:      "Order total in cents",
				Buckets:   []float64{1000, 2500, 5000, 10000, 25000, 50000, 100000},
			},
		),
		OrderTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_transitions_total",
				Help:      "Order status transitions",
			},
			[]string{"from", "to"},
		),

		// =======================================================================
		// Webhooks
		// =======================================================================
		WebhookReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Webhooks received with a valid signature",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Webhook processing outcomes",
			},
			[]string{"event_type", "result"}, // result: ok, failed, retry, ignored
		),
		WebhookDuplicates: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duplicates_total",
				Help:      "Webhook deliveries skipped as already processed",
			},
		),
		WebhookLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook processing time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),

		// =======================================================================
		// Background Jobs
		// =======================================================================
		JobsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_processed_total",
				Help:      "Background job runs",
			},
			[]string{"job", "result"},
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_duration_seconds",
				Help:      "Background job run time",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10},
			},
			[]string{"job"},
		),

		// =======================================================================
		// External APIs
		// =======================================================================
		StripeAPILatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stripe_api_duration_seconds",
				Help:      "Stripe API call duration (helps differentiate app slowness from Stripe issues)",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"}, // operation: create_session, get_session, expire_session
		),
		BreakerStateChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "breaker_state_changes_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"name", "to"},
		),
	}

	return m
}

// Global instance for easy access from services and handlers
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance on the
// default registry.
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace, prometheus.DefaultRegisterer)
	return Business
}
