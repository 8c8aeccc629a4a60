package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopaway_orders_created_total",
		Help: "Total number of orders successfully created.",
	},
		[]string{"payment_method"},
	)

	DuplicateOrdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopaway_duplicate_orders_total",
		Help: "Total number of checkouts rejected as duplicates.",
	})

	CourierDispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopaway_courier_dispatches_total",
		Help: "Total number of courier dispatch attempts by outcome.",
	},
		[]string{"outcome"},
	)

	CourierRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopaway_courier_requests_total",
		Help: "Total number of courier API requests by operation and result.",
	},
		[]string{"operation", "result"},
	)

	PaymentOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopaway_payment_outcomes_total",
		Help: "Total number of payment gateway outcomes by operation and status.",
	},
		[]string{"operation", "status"},
	)

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopaway_webhooks_received_total",
		Help: "Total number of courier webhooks by result.",
	},
		[]string{"result"},
	)

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopaway_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)
)

var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "shopaway_http_request_duration_seconds",
	Help:    "HTTP request latency by route and status class.",
	Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60},
},
	[]string{"method", "route", "status_class"},
)
