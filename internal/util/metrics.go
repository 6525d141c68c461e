package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersEditedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_edited_total",
		Help: "Total number of pending orders edited",
	})

	OrdersApprovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_approved_total",
		Help: "Total number of orders approved into sales",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected order operations",
	}, []string{"operation", "reason"})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of failed stock reservations",
	}, []string{"reason"})

	StockInvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_invariant_violations_total",
		Help: "Total number of release/consume calls that would break 0 <= reserved <= on_hand",
	}, []string{"operation"})

	LotsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lots_ingested_total",
		Help: "Total number of purchase lots recorded",
	})

	FIFOConsumeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fifo_consume_latency_seconds",
		Help:    "Latency of FIFO lot consumption",
		Buckets: prometheus.DefBuckets,
	})

	FallbackCostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_lines_fallback_cost_total",
		Help: "Total number of sale lines costed at the static purchase price because the product has no lots",
	})

	SaleProfitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_profit_total",
		Help: "Accumulated gross profit of approved sales",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
