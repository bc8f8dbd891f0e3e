package server

import (
	"net/http"

	"connectrpc.com/grpchealth"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otterscale/watchbridge/internal/bridge"
	"github.com/otterscale/watchbridge/internal/handler"
)

// BridgeServiceName is the service name reported by the health check.
const BridgeServiceName = "watchbridge.v1.Bridge"

// Handler mounts every route of the server.
type Handler struct {
	resource *handler.ResourceHandler
	bridge   *bridge.Server
}

func NewHandler(resource *handler.ResourceHandler, bridge *bridge.Server) *Handler {
	return &Handler{
		resource: resource,
		bridge:   bridge,
	}
}

// Mount registers all handlers and observability tools to the mux.
func (h *Handler) Mount(mux *http.ServeMux) error {
	// Register Observability & Operations (Health, Metrics)
	if err := h.registerOpsHandlers(mux, []string{BridgeServiceName}); err != nil {
		return err
	}

	// Register REST and WebSocket Handlers
	h.resource.Mount(mux)
	h.bridge.Mount(mux)

	return nil
}

// registerOpsHandlers sets up Health Check and Metrics.
func (h *Handler) registerOpsHandlers(mux *http.ServeMux, serviceNames []string) error {
	// gRPC Health Check
	checker := grpchealth.NewStaticChecker(serviceNames...)
	mux.Handle(grpchealth.NewHandler(checker))

	// Prometheus Metrics
	exporter, err := prometheus.New()
	if err != nil {
		return err
	}
	otel.SetMeterProvider(metric.NewMeterProvider(metric.WithReader(exporter)))
	mux.Handle("/metrics", promhttp.Handler())

	return nil
}
