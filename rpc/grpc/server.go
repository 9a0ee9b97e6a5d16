// Package grpc serves the relay's gRPC services with a CBOR codec.
//
// The service descriptors are written by hand; message types live in the
// types package and travel under the "cbor" content-subtype.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/metrics"
	"github.com/blockberries/relayberry/tracing/otel"
	"github.com/blockberries/relayberry/types"
)

// Config contains configuration for the gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "0.0.0.0:9080").
	ListenAddr string

	// MaxRecvMsgSize is the maximum message size in bytes the server can receive.
	MaxRecvMsgSize int

	// MaxSendMsgSize is the maximum message size in bytes the server can send.
	MaxSendMsgSize int

	// MaxConcurrentStreams is the maximum number of concurrent streams per connection.
	MaxConcurrentStreams uint32

	// TLS enables TLS when set.
	TLS *TLSConfig

	// Auth contains authentication configuration.
	Auth AuthConfig

	// RateLimit contains rate limiting configuration.
	RateLimit RateLimitConfig
}

// TLSConfig names the server certificate and key files.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:           "0.0.0.0:9080",
		MaxRecvMsgSize:       4 * 1024 * 1024,
		MaxSendMsgSize:       4 * 1024 * 1024,
		MaxConcurrentStreams: 100,
		Auth:                 DefaultAuthConfig(),
		RateLimit:            DefaultRateLimitConfig(),
	}
}

// Server hosts the relay services.
type Server struct {
	config        Config
	grpcServer    *grpc.Server
	listener      net.Listener
	running       atomic.Bool
	authenticator *Authenticator
	rateLimiter   *RateLimiter
	logger        *logging.Logger
	metrics       metrics.Metrics
	tracer        *otel.Tracer
}

// NewServer creates the server. Services are registered on it with the
// Register functions before Start or Serve.
func NewServer(config Config, logger *logging.Logger, m metrics.Metrics, tracer *otel.Tracer) (*Server, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	if tracer == nil {
		tracer = otel.NewNopTracer()
	}

	s := &Server{
		config:        config,
		authenticator: NewAuthenticator(config.Auth),
		rateLimiter:   NewRateLimiter(config.RateLimit),
		logger:        logger.WithComponent("rpc"),
		metrics:       m,
		tracer:        tracer,
	}

	opts := []grpc.ServerOption{
		grpc.MaxConcurrentStreams(config.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              2 * time.Minute,
			Timeout:           20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             time.Minute,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			s.observeInterceptor(),
			s.rateLimiter.UnaryInterceptor(),
			s.authenticator.UnaryInterceptor(),
		),
	}
	if config.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(config.MaxRecvMsgSize))
	}
	if config.MaxSendMsgSize > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(config.MaxSendMsgSize))
	}
	if config.TLS != nil {
		creds, err := credentials.NewServerTLSFromFile(config.TLS.CertFile, config.TLS.KeyFile)
		if err != nil {
			s.rateLimiter.Close()
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	s.grpcServer = grpc.NewServer(opts...)
	return s, nil
}

// RegisterService implements grpc.ServiceRegistrar.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl any) {
	s.grpcServer.RegisterService(desc, impl)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			s.logger.Error("grpc server stopped", logging.Error(err))
		}
	}()
	return nil
}

// Serve serves on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	if s.running.Swap(true) {
		return errors.New("server already running")
	}
	s.listener = lis
	s.logger.Info("serving relay services", logging.Target(lis.Addr().String()))

	err := s.grpcServer.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop stops the server gracefully.
func (s *Server) Stop() error {
	s.grpcServer.GracefulStop()
	s.rateLimiter.Close()
	s.running.Store(false)
	return nil
}

// IsRunning returns true if the server is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// observeInterceptor traces, logs and counts every call.
func (s *Server) observeInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractTrace(ctx, s.tracer)
		ctx, span := s.tracer.StartSpan(ctx, info.FullMethod)

		start := time.Now()
		resp, err := handler(ctx, req)
		otel.End(span, err)
		err = toStatus(err)

		result := callResult(resp, err)
		s.metrics.IncAcks(info.FullMethod, result)
		s.logger.Debug("rpc handled",
			logging.Method(info.FullMethod),
			logging.Relay(CallerRelay(ctx)),
			"result", result,
			logging.Duration(time.Since(start)),
			logging.Error(err),
		)
		return resp, err
	}
}

// callResult labels a call by its Ack status, or by transport outcome for
// non-Ack responses.
func callResult(resp any, err error) string {
	if err != nil {
		return "rpc_error"
	}
	if ack, ok := resp.(*types.Ack); ok && ack != nil {
		return ack.Status.String()
	}
	return "ok"
}

// toStatus maps relay errors that escape a handler onto gRPC status codes.
// Errors that already carry a status pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, types.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrProtocol):
		code = codes.NotFound
	case errors.Is(err, types.ErrStorageUnavailable), errors.Is(err, types.ErrTransport):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}
