package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlements_committed_total",
		Help: "Total number of cart settlements that committed an order",
	})

	SettlementsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_failed_total",
		Help: "Total number of settlements that did not commit",
	}, []string{"reason"})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_latency_seconds",
		Help:    "Latency of the settlement transaction",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReserveRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reserve_retries_total",
		Help: "Conditional stock updates that lost a race and were retried",
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	CartCleanupFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_cleanup_failures_total",
		Help: "Cart cleanups that failed after a committed settlement",
	}, []string{"stage"})

	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Payment provider callbacks by outcome",
	}, []string{"outcome"})

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
