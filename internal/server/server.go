// ABOUTME: Server orchestrator that owns the forward-auth, metrics, and gRPC health listeners
// ABOUTME: Wires config into the validator and handler, and manages graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/openclaw/forward-auth/internal/config"
	"github.com/openclaw/forward-auth/internal/forwardauth"
	"github.com/openclaw/forward-auth/internal/metrics"
	"github.com/openclaw/forward-auth/internal/terminaltoken"
)

// HealthServiceName is the service name reported by the gRPC health server.
const HealthServiceName = "openclaw.forwardauth"

const shutdownTimeout = 5 * time.Second

// Server owns every listener of the process. The shared state it hands to
// request handlers is read-only after New returns.
type Server struct {
	config *config.Config
	logger *slog.Logger

	handler    http.Handler
	httpServer *http.Server

	// metricsServer is nil when metrics are disabled
	metricsServer *http.Server

	// grpcServer and health are nil when the gRPC health service is disabled
	grpcServer *grpc.Server
	health     *health.Server

	mu    sync.Mutex
	addrs map[string]string
	ready chan struct{}
}

// Option configures a Server.
type Option func(*options)

type options struct {
	version string
	now     func() time.Time
}

// WithVersion sets the version published in build_info.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithClock overrides the time source for token freshness.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds the validator, handler and listeners described by cfg.
// cfg must already be validated.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := options{version: "dev", now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	validator, err := terminaltoken.NewValidator([]byte(cfg.Auth.Secret), terminaltoken.Options{
		TTLSeconds:         cfg.Auth.TTLSeconds,
		MinSignatureLength: cfg.Auth.MinSignatureLength,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token validator: %w", err)
	}

	s := &Server{
		config: cfg,
		logger: logger,
		addrs:  make(map[string]string),
		ready:  make(chan struct{}),
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		registry := metrics.NewRegistry()
		m, err = metrics.New(registry)
		if err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
		m.SetBuildInfo(o.version)

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler(registry))
		s.metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		}
	}

	var observer forwardauth.Observer
	if m != nil {
		observer = m
	}

	authLogger := logger.With("component", "forwardauth")
	handler := forwardauth.NewHandler(validator, authLogger,
		forwardauth.WithClock(o.now),
		forwardauth.WithObserver(observer),
	)
	s.handler = forwardauth.Wrap(handler, authLogger, observer)

	// No mux: every path except /healthz is a check, and ServeMux would
	// redirect unclean paths instead of answering them.
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	if cfg.Server.GRPCHealthAddr != "" {
		s.grpcServer, s.health = newHealthServer()
	}

	return s, nil
}

// newHealthServer creates a gRPC server exposing grpc.health.v1.Health.
func newHealthServer() (*grpc.Server, *health.Server) {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

// Handler returns the forward-auth handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Ready is closed once all listeners are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address of a listener ("http", "metrics", "grpc"),
// or "" if it is not listening.
func (s *Server) Addr(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs[name]
}

// listeners holds the sockets acquired at startup.
type listeners struct {
	http    net.Listener
	metrics net.Listener
	grpc    net.Listener
}

func (l *listeners) close() {
	for _, ln := range []net.Listener{l.http, l.metrics, l.grpc} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

// setupListeners binds every configured address, closing what was opened on failure.
func (s *Server) setupListeners() (*listeners, error) {
	var ls listeners
	var err error

	ls.http, err = net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on forward-auth address: %w", err)
	}

	if s.metricsServer != nil {
		ls.metrics, err = net.Listen("tcp", s.metricsServer.Addr)
		if err != nil {
			ls.close()
			return nil, fmt.Errorf("listening on metrics address: %w", err)
		}
	}

	if s.grpcServer != nil {
		ls.grpc, err = net.Listen("tcp", s.config.Server.GRPCHealthAddr)
		if err != nil {
			ls.close()
			return nil, fmt.Errorf("listening on gRPC health address: %w", err)
		}
	}

	s.mu.Lock()
	s.addrs["http"] = ls.http.Addr().String()
	if ls.metrics != nil {
		s.addrs["metrics"] = ls.metrics.Addr().String()
	}
	if ls.grpc != nil {
		s.addrs["grpc"] = ls.grpc.Addr().String()
	}
	s.mu.Unlock()

	return &ls, nil
}

// startServers starts each server in its own goroutine, returning an error channel.
func (s *Server) startServers(ls *listeners) chan error {
	errCh := make(chan error, 3)

	go func() {
		s.logger.Info("forward-auth server listening", "addr", ls.http.Addr().String())
		if err := s.httpServer.Serve(ls.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("forward-auth server: %w", err)
		}
	}()

	if ls.metrics != nil {
		go func() {
			s.logger.Info("metrics server listening", "addr", ls.metrics.Addr().String(), "path", s.config.Metrics.Path)
			if err := s.metricsServer.Serve(ls.metrics); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if ls.grpc != nil {
		go func() {
			s.logger.Info("gRPC health server listening", "addr", ls.grpc.Addr().String())
			if err := s.grpcServer.Serve(ls.grpc); err != nil {
				errCh <- fmt.Errorf("gRPC health server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		s.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (s *Server) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		s.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run binds the listeners, serves until ctx is canceled or a server fails,
// then shuts down gracefully. It returns nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ls, err := s.setupListeners()
	if err != nil {
		return err
	}
	close(s.ready)

	errCh := s.startServers(ls)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops all servers, waiting for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down forward-auth")

	var errs []error
	if s.grpcServer != nil {
		s.shutdownGRPCServer(ctx)
	}
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	if s.metricsServer != nil {
		errs = appendCloseError(errs, "metrics shutdown", s.metricsServer.Shutdown(ctx))
	}

	return errors.Join(errs...)
}
