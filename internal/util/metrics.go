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

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of applied order status transitions",
	}, []string{"from", "to"})

	OrderInvalidTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_invalid_transitions_total",
		Help: "Total number of rejected order events",
	}, []string{"status", "event"})

	InventoryReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_total",
		Help: "Total number of reservation operations by outcome",
	}, []string{"outcome"})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of inventory reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	InventoryConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_version_conflicts_total",
		Help: "Total number of optimistic concurrency conflicts on stock items",
	})

	OutboxEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "Total number of outbox events delivered to the broker",
	}, []string{"event_type"})

	OutboxEventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_failed_total",
		Help: "Total number of failed outbox delivery attempts",
	}, []string{"event_type"})

	OutboxEventsAbandoned = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_events_abandoned",
		Help: "Outbox events that exhausted their retries and need manual attention",
	})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	})

	PaymentResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_results_total",
		Help: "Total number of payments by gateway outcome",
	}, []string{"status"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment processing",
		Buckets: prometheus.DefBuckets,
	})

	KitchenQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kitchen_active_orders",
		Help: "Orders currently queued in the kitchen",
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
