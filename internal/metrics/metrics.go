// Package metrics provides Prometheus metrics collection for the chatrelay application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnections tracks the current number of live WebSocket connections
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_websocket_connections_total",
		Help: "Current number of live WebSocket connections",
	})

	// OnlineUsers tracks the current size of the presence set
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_online_users",
		Help: "Current number of authenticated users holding a live connection",
	})

	// EventsReceived tracks the total number of events received from clients by kind
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_events_received_total",
		Help: "Total number of events received from clients by kind",
	}, []string{"kind"})

	// EventsSent tracks the total number of events sent to clients
	EventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_events_sent_total",
		Help: "Total number of events sent to clients",
	})

	// Deliveries tracks fan-out deliveries by outbound event kind
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_deliveries_total",
		Help: "Total number of fan-out deliveries by outbound event kind",
	}, []string{"kind"})

	// DeliveryMisses tracks deliveries skipped because the target was offline
	DeliveryMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_delivery_misses_total",
		Help: "Total number of deliveries skipped because the target was not registered",
	})

	// EventErrors tracks the total number of event processing errors
	EventErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_event_errors_total",
		Help: "Total number of event processing errors",
	})

	// StoreErrors tracks the total number of persistence failures
	StoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_store_errors_total",
		Help: "Total number of message store operation failures",
	})

	// AuthFailures tracks the total number of failed auth events
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_auth_failures_total",
		Help: "Total number of rejected authentication attempts",
	})

	// MessagesPersisted tracks the total number of message rows inserted
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_messages_persisted_total",
		Help: "Total number of chat messages durably recorded",
	})

	// HTTPRequestDuration tracks HTTP request latency by path and status
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatrelay_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "status"})
)
