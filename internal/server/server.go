package server

import (
	"GameLedger/internal/auth"
	"GameLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Options configures NewGRPCServer.
type Options struct {
	GRPCAddr string
	HTTPAddr string

	Service       LedgerServer
	Authenticator *auth.Authenticator
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger

	// ShutdownTimeout bounds the HTTP drain on shutdown.
	ShutdownTimeout time.Duration
}

// GRPCServer serves the Ledger service over gRPC and the same calls as
// HTTP/JSON through a grpc-gateway mux.
type GRPCServer struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	gwmux        *runtime.ServeMux
	unary        grpc.UnaryServerInterceptor
	service      LedgerServer

	grpcAddr        string
	httpAddr        string
	healthChecker   *observability.HealthChecker
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

// NewGRPCServer builds the gRPC server and REST routes.
func NewGRPCServer(opts Options) (*GRPCServer, error) {
	if opts.Service == nil {
		return nil, errors.New("server: ledger service is required")
	}
	if opts.Authenticator == nil {
		return nil, errors.New("server: authenticator is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	s := &GRPCServer{
		gwmux:           runtime.NewServeMux(),
		service:         opts.Service,
		grpcAddr:        opts.GRPCAddr,
		httpAddr:        opts.HTTPAddr,
		healthChecker:   opts.HealthChecker,
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          opts.Logger,
	}
	s.unary = chainUnary(
		ObserveInterceptor(opts.Metrics, opts.Logger),
		AuthInterceptor(opts.Authenticator),
	)

	s.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(s.unary),
	)
	RegisterLedgerServer(s.grpcServer, opts.Service)

	// Not serving until recovery has finished; see SetServing.
	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(s.grpcServer)

	if err := s.registerRoutes(); err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}
	return s, nil
}

// SetServing flips the gRPC health status.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(ServiceName, st)
}

// Handler returns the HTTP handler: health probes plus the REST routes.
func (s *GRPCServer) Handler() http.Handler {
	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", s.gwmux)
	return httpMux
}

// StartGRPC listens on the configured address and serves until ctx is
// cancelled.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on lis until ctx is cancelled.
func (s *GRPCServer) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.SetServing(false)
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// StartHTTPGateway serves the REST surface until ctx is cancelled.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP gateway shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
