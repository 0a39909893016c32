// Package metrics holds the server's prometheus instrumentation.
//
// Naming convention: parley_<subsystem>_<name>. Gauges track current state
// (sessions, rooms), counters track cumulative events (deliveries, parse
// errors, closed sessions).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive is the current number of connected sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Subsystem: "hub",
		Name:      "sessions_active",
		Help:      "Current number of connected sessions",
	})

	// RoomsActive is the current number of rooms. Rooms only exist while
	// they have members, so this tracks non-empty rooms by definition.
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Subsystem: "hub",
		Name:      "rooms_active",
		Help:      "Current number of rooms",
	})

	// ConnectionsAccepted counts accepted TCP connections.
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "server",
		Name:      "connections_accepted_total",
		Help:      "Total TCP connections accepted",
	})

	// MessagesDelivered counts messages enqueued to client outbound
	// channels, fan-out copies included.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "hub",
		Name:      "messages_delivered_total",
		Help:      "Total messages enqueued for delivery to clients",
	})

	// ParseErrors counts inbound lines that failed to parse.
	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "hub",
		Name:      "parse_errors_total",
		Help:      "Total inbound lines that failed to parse",
	})

	// SessionsClosed counts closed sessions by reason (quit, io error,
	// ping timeout, slow consumer, server shutdown).
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "hub",
		Name:      "sessions_closed_total",
		Help:      "Total sessions closed, by reason",
	}, []string{"reason"})
)

// Serve exposes /metrics on the given address. It blocks, so run it in its
// own goroutine. Only called when a metrics address is configured.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv.ListenAndServe()
}
