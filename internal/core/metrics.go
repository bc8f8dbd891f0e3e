package core

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/otterscale/watchbridge/internal/core"

// watchMetrics groups the instruments recorded by sessions and
// listeners. Instruments come from the global MeterProvider, which
// forwards to the provider installed at startup.
type watchMetrics struct {
	activeSessions  metric.Int64UpDownCounter
	reconnects      metric.Int64Counter
	deliveredEvents metric.Int64Counter
	droppedEvents   metric.Int64Counter
}

var metrics = newWatchMetrics()

func newWatchMetrics() *watchMetrics {
	meter := otel.Meter(meterName)
	m := &watchMetrics{}

	// Instrument creation only fails on invalid names; the no-op
	// instruments returned alongside the error are still usable.
	m.activeSessions, _ = meter.Int64UpDownCounter("watchbridge.sessions.active",
		metric.WithDescription("Number of upstream watch sessions currently open or reconnecting."))
	m.reconnects, _ = meter.Int64Counter("watchbridge.sessions.reconnects",
		metric.WithDescription("Number of scheduled reconnect attempts."))
	m.deliveredEvents, _ = meter.Int64Counter("watchbridge.events.delivered",
		metric.WithDescription("Number of notifications enqueued to listeners."))
	m.droppedEvents, _ = meter.Int64Counter("watchbridge.events.dropped",
		metric.WithDescription("Number of notifications dropped for slow listeners."))

	return m
}

func (m *watchMetrics) sessionOpened(key SessionKey) {
	m.activeSessions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("cluster", key.Cluster)))
}

func (m *watchMetrics) sessionClosed(key SessionKey) {
	m.activeSessions.Add(context.Background(), -1, metric.WithAttributes(attribute.String("cluster", key.Cluster)))
}

func (m *watchMetrics) reconnect(key SessionKey, expired bool) {
	m.reconnects.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("cluster", key.Cluster),
		attribute.String("resource", key.Resource),
		attribute.Bool("expired", expired),
	))
}
