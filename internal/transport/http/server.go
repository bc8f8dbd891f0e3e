// Package http hosts the watch bridge over HTTP/1.1. WebSocket
// upgrades, the REST snapshot API and the ops endpoints share one
// listener and one middleware chain (access log, CORS, auth).
package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"connectrpc.com/authn"
	connectcors "connectrpc.com/cors"
	"github.com/rs/cors"
)

// MountFunc registers routes on the server's mux.
type MountFunc func(mux *http.ServeMux) error

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server carries the bridge endpoints and implements
// transport.Listener. Upgraded connections are hijacked out of
// net/http, so Stop does not drain them; they end with the serving
// context instead.
type Server struct {
	inner          *http.Server
	address        string
	listener       net.Listener
	mount          MountFunc
	authMiddleware *authn.Middleware
	publicPaths    map[string]struct{}
	allowedOrigins []string
	log            *slog.Logger
}

// WithAddress sets the listen address (e.g. ":8299").
func WithAddress(address string) ServerOption {
	return func(s *Server) { s.address = address }
}

// WithMount sets the route registration function.
func WithMount(mount MountFunc) ServerOption {
	return func(s *Server) { s.mount = mount }
}

// WithAuthMiddleware sets the bearer token middleware. A nil
// middleware leaves every path unauthenticated.
func WithAuthMiddleware(m *authn.Middleware) ServerOption {
	return func(s *Server) { s.authMiddleware = m }
}

// WithPublicPaths lists exact paths served without authentication.
// A missing leading "/" is added.
func WithPublicPaths(paths []string) ServerOption {
	return func(s *Server) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			if p[0] != '/' {
				p = "/" + p
			}
			if s.publicPaths == nil {
				s.publicPaths = make(map[string]struct{}, len(paths))
			}
			s.publicPaths[p] = struct{}{}
		}
	}
}

// WithAllowedOrigins sets the CORS origins. Browser WebSocket origins
// are checked separately by the bridge.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// NewServer binds the listen address and assembles the handler chain.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		address: ":8299",
		log:     slog.Default().With("component", "http-server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Credentials must never be accepted from every origin.
	if s.authMiddleware != nil && len(s.allowedOrigins) == 0 {
		return nil, fmt.Errorf("http server: allowed origins must be configured when authentication is enabled; " +
			"set --allowed-origins or WATCHBRIDGE_SERVER_ALLOWED_ORIGINS")
	}

	handler, err := s.buildHandler()
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", s.address) //nolint:noctx // bound once at startup
	if err != nil {
		return nil, fmt.Errorf("http listen %q: %w", s.address, err)
	}
	s.listener = ln

	// WebSocket upgrades need HTTP/1.1. No Read/WriteTimeout: bridge
	// connections outlive any request deadline and set their own
	// per-frame deadlines after the upgrade.
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)

	s.inner = &http.Server{
		Addr:              s.address,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8 KiB
		Protocols:         protocols,
	}

	return s, nil
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.inner.Handler
}

// Start serves until Stop is called. Request contexts, and with them
// every bridge connection, derive from ctx.
func (s *Server) Start(ctx context.Context) error {
	s.inner.BaseContext = func(net.Listener) context.Context {
		return ctx
	}

	s.log.Info("starting",
		"address", s.listener.Addr().String(),
		"auth", s.authMiddleware != nil,
		"public_paths", len(s.publicPaths),
		"allowed_origins", s.allowedOrigins,
	)

	if err := s.inner.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Stop stops accepting requests and waits for in-flight REST calls.
// It forces a close once ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down")
	if err := s.inner.Shutdown(ctx); err != nil {
		s.log.Error("graceful shutdown failed, forcing close", "error", err)
		return s.inner.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Middleware chain
// ---------------------------------------------------------------------------

// buildHandler assembles access log -> CORS -> auth -> mux.
func (s *Server) buildHandler() (http.Handler, error) {
	mux := http.NewServeMux()
	if s.mount != nil {
		if err := s.mount(mux); err != nil {
			return nil, fmt.Errorf("mount routes: %w", err)
		}
	}

	var handler http.Handler = mux
	if s.authMiddleware != nil {
		handler = s.wrapAuth(mux, handler)
	}
	handler = s.wrapCORS(handler)
	return s.wrapAccessLog(handler), nil
}

// wrapAuth applies the authn middleware, skipping public paths.
func (s *Server) wrapAuth(mux *http.ServeMux, next http.Handler) http.Handler {
	protected := s.authMiddleware.Wrap(next)
	if len(s.publicPaths) == 0 {
		return protected
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.publicPaths[r.URL.Path]; ok {
			mux.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

// wrapCORS allows every origin when none are configured, which
// NewServer only permits without auth. Authorization is added to the
// connect header list for the REST API.
func (s *Server) wrapCORS(next http.Handler) http.Handler {
	if len(s.allowedOrigins) == 0 {
		return cors.AllowAll().Handler(next)
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   connectcors.AllowedMethods(),
		AllowedHeaders:   append(connectcors.AllowedHeaders(), "Authorization"),
		ExposedHeaders:   connectcors.ExposedHeaders(),
		AllowCredentials: true,
		MaxAge:           7200,
	})
	return c.Handler(next)
}

// wrapAccessLog logs every request at debug level once its handler
// returns. For an upgraded connection that is when the bridge session
// ends, so the duration is the connection lifetime.
func (s *Server) wrapAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status(),
			"duration", time.Since(start),
		)
	})
}

// statusRecorder captures the response status. It keeps Hijack
// reachable so WebSocket upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(r.ResponseWriter).Hijack()
	if err == nil {
		r.code = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}
