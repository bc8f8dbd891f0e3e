package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/otterscale/watchbridge/internal/config"
	"github.com/otterscale/watchbridge/internal/core"
)

// WatchPath is the route pattern of the bridge endpoint.
const WatchPath = "/api/v1/clusters/{cluster}/watch"

const (
	defaultHeartbeatInterval = 20 * time.Second
	defaultWriteTimeout      = 10 * time.Second
)

// Options tune every connection served by a Server.
type Options struct {
	// ListenerBuffer is the notification queue size of each connection.
	ListenerBuffer int
	// HeartbeatInterval is the ping period. A connection that stays
	// silent for two periods is closed.
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	// AllowedOrigins restricts the Origin header of upgrade requests.
	// Empty allows every origin.
	AllowedOrigins []string
}

func (o Options) normalize() Options {
	if o.ListenerBuffer <= 0 {
		o.ListenerBuffer = core.DefaultListenerBuffer
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}

// Server upgrades watch requests and runs one Handler per connection.
type Server struct {
	hub      *core.Hub
	opts     Options
	upgrader websocket.Upgrader
	log      *slog.Logger

	connections metric.Int64UpDownCounter
	wg          sync.WaitGroup
}

// NewServer returns a bridge server backed by hub.
func NewServer(hub *core.Hub, opts Options) *Server {
	opts = opts.normalize()

	s := &Server{
		hub:  hub,
		opts: opts,
		log:  slog.Default().With("component", "bridge"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.connections, _ = otel.Meter("github.com/otterscale/watchbridge/internal/bridge").
		Int64UpDownCounter("watchbridge.bridge.connections",
			metric.WithDescription("Number of open consumer connections."))

	return s
}

// ProvideServer builds a Server from configuration.
func ProvideServer(conf *config.Config, hub *core.Hub) *Server {
	return NewServer(hub, Options{
		ListenerBuffer:    conf.WatchListenerBuffer(),
		HeartbeatInterval: conf.BridgeHeartbeatInterval(),
		WriteTimeout:      conf.BridgeWriteTimeout(),
		AllowedOrigins:    conf.ServerAllowedOrigins(),
	})
}

// Mount registers the watch endpoint on mux.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET "+WatchPath, s.ServeWatch)
}

// ServeWatch upgrades the request and blocks until the connection ends.
// Unknown clusters are rejected before the upgrade.
func (s *Server) ServeWatch(w http.ResponseWriter, r *http.Request) {
	cluster := r.PathValue("cluster")

	registry, err := s.hub.Registry(cluster)
	if err != nil {
		status := http.StatusServiceUnavailable
		var nf *core.ErrClusterNotFound
		if errors.As(err, &nf) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.log.Debug("upgrade failed", "cluster", cluster, "error", err)
		return
	}

	attrs := metric.WithAttributes(attribute.String("cluster", cluster))
	s.connections.Add(context.Background(), 1, attrs)
	defer s.connections.Add(context.Background(), -1, attrs)

	s.wg.Add(1)
	defer s.wg.Done()

	newHandler(conn, registry, s.opts).Serve(r.Context())
}

// Wait blocks until every connection has been cleaned up.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
}
