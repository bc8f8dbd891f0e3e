// Package server implements the runtime that serves the watch bridge,
// the REST API and the background cluster maintenance loops.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/otterscale/watchbridge/internal/bridge"
	"github.com/otterscale/watchbridge/internal/core"
	"github.com/otterscale/watchbridge/internal/middleware"
	"github.com/otterscale/watchbridge/internal/transport"
	"github.com/otterscale/watchbridge/internal/transport/http"
)

// Config holds the runtime parameters for a Server.
type Config struct {
	Address        string
	AllowedOrigins []string
	OIDCIssuerURL  string
	OIDCClientID   string
}

// Server binds the HTTP server (REST + bridge + ops) and the
// background listeners, running them in parallel via transport.Serve.
type Server struct {
	version    core.Version
	handler    *Handler
	hub        *core.Hub
	bridge     *bridge.Server
	background BackgroundListeners
}

// NewServer returns a Server wired to the given handler, hub and
// background listeners.
func NewServer(version core.Version, handler *Handler, hub *core.Hub, bridge *bridge.Server, background BackgroundListeners) *Server {
	return &Server{
		version:    version,
		handler:    handler,
		hub:        hub,
		bridge:     bridge,
		background: background,
	}
}

// Run starts every listener. It blocks until ctx is cancelled or an
// unrecoverable error occurs, then waits for open bridge connections
// to release their subscriptions and shuts every cluster registry
// down. Health and metrics endpoints are marked as public (no auth).
func (s *Server) Run(ctx context.Context, cfg Config) error {
	slog.Info("starting watchbridge", "version", string(s.version), "clusters", s.hub.Clusters())

	oidc, err := middleware.NewOIDC(cfg.OIDCIssuerURL, cfg.OIDCClientID)
	if err != nil {
		return fmt.Errorf("failed to create OIDC middleware: %w", err)
	}
	if oidc == nil {
		slog.Warn("authentication is disabled; set --oidc-issuer-url to require bearer tokens")
	}

	httpSrv, err := http.NewServer(
		http.WithAddress(cfg.Address),
		http.WithAllowedOrigins(cfg.AllowedOrigins),
		http.WithAuthMiddleware(oidc),
		http.WithPublicPaths([]string{
			"/grpc.health.v1.Health/Check",
			"/grpc.health.v1.Health/Watch",
			"/metrics",
		}),
		http.WithMount(s.handler.Mount),
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	listeners := make([]transport.Listener, 0, len(s.background)+1)
	listeners = append(listeners, httpSrv)
	listeners = append(listeners, s.background...)

	err = transport.Serve(ctx, listeners...)

	s.bridge.Wait()
	s.hub.Close()

	return err
}
