// Package node assembles a relay from its configuration and runs it.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/blockberries/relayberry/bridge"
	"github.com/blockberries/relayberry/client"
	"github.com/blockberries/relayberry/config"
	"github.com/blockberries/relayberry/events"
	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/metrics"
	"github.com/blockberries/relayberry/outbox"
	"github.com/blockberries/relayberry/requests"
	rpcgrpc "github.com/blockberries/relayberry/rpc/grpc"
	"github.com/blockberries/relayberry/satp"
	"github.com/blockberries/relayberry/tracing/otel"
)

// Lifecycle errors.
var (
	ErrAlreadyStarted = errors.New("node already started")
	ErrNotStarted     = errors.New("node not started")
)

// Node is a running relay. It owns the stores, the state machines, the
// outbox and the gRPC server.
type Node struct {
	cfg     *config.Config
	version string

	logger          *logging.Logger
	logCloser       io.Closer
	metrics         metrics.Metrics
	tracer          *otel.Tracer
	shutdownTracing func(context.Context) error

	stores    *Stores
	requests  *requests.Machine
	events    *events.Engine
	outbox    *outbox.Dispatcher
	client    *client.Client
	satp      *satp.Engine
	publisher *bridge.Publisher
	driver    *bridge.DriverBridge
	network   *bridge.NetworkBridge
	server    *rpcgrpc.Server
	admin     *http.Server

	dialOpts   []grpc.DialOption
	httpClient *http.Client
	validator  satp.Validator

	mu       sync.Mutex
	started  bool
	group    *errgroup.Group
	groupCtx context.Context
}

// Option is a functional option for configuring a Node.
type Option func(*Node)

// WithLogger replaces the logger built from the logging config.
func WithLogger(l *logging.Logger) Option {
	return func(n *Node) {
		n.logger = l
	}
}

// WithMetrics replaces the metrics built from the metrics config.
func WithMetrics(m metrics.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// WithDialOptions adds gRPC dial options to every outbound connection.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(n *Node) {
		n.dialOpts = append(n.dialOpts, opts...)
	}
}

// WithHTTPClient sets the client used to post events to application
// callbacks.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Node) {
		n.httpClient = c
	}
}

// WithValidator sets the check applied to inbound transfer commence
// requests.
func WithValidator(v satp.Validator) Option {
	return func(n *Node) {
		n.validator = v
	}
}

// WithVersion sets the version reported by the status endpoint and the
// tracing resource.
func WithVersion(v string) Option {
	return func(n *Node) {
		n.version = v
	}
}

// NewNode builds a relay from cfg. Nothing listens until Start.
func NewNode(cfg *config.Config, opts ...Option) (n *Node, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	n = &Node{
		cfg:             cfg,
		version:         "dev",
		logCloser:       nopCloser{},
		shutdownTracing: func(context.Context) error { return nil },
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.logger == nil {
		logger, closer, err := logging.Open(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
		if err != nil {
			return nil, err
		}
		n.logger, n.logCloser = logger, closer
	}
	n.logger = n.logger.With(logging.Relay(cfg.Relay.Name))
	defer func() {
		if err != nil {
			_ = n.shutdownTracing(context.Background())
			_ = n.logCloser.Close()
		}
	}()

	if n.metrics == nil {
		if cfg.Metrics.Enabled {
			n.metrics = metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
		} else {
			n.metrics = metrics.NewNopMetrics()
		}
	}

	n.tracer, n.shutdownTracing, err = otel.Setup(cfg.Tracing.Enabled, otel.ProviderConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: n.version,
		Environment:    "production",
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		n.shutdownTracing = func(context.Context) error { return nil }
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, err
	}
	n.stores, err = OpenStores(cfg.Store, n.logger, n.metrics)
	if err != nil {
		return nil, fmt.Errorf("opening stores: %w", err)
	}

	dir := cfg.Directory()
	n.outbox = outbox.New(cfg.Transport.ForwardTimeout.Duration(), n.logger, n.metrics, n.tracer)
	n.client = client.New(client.Config{
		RelayName:   cfg.Relay.Name,
		CallTimeout: cfg.Transport.CallTimeout.Duration(),
		MaxMsgSize:  cfg.Transport.MaxMessageSize,
	}, n.logger, n.tracer, n.dialOpts...)

	n.requests = requests.New(n.stores.Requests, n.stores.RemoteRequests, n.logger, n.metrics)
	n.events = events.New(n.stores.Events, n.stores.RemoteEvents, n.requests, n.logger, n.metrics)
	n.satp = satp.New(n.stores.SATP, n.client, dir, n.outbox, n.logger, n.metrics)
	if n.validator != nil {
		n.satp.SetValidator(n.validator)
	}
	n.publisher = bridge.NewPublisher(n.requests, n.client, dir, n.outbox, n.httpClient, n.logger)
	n.driver = bridge.NewDriverBridge(n.requests, n.events, n.client, dir, n.outbox, n.publisher, n.logger)
	n.network = bridge.NewNetworkBridge(cfg.Relay.Name, n.requests, n.events, n.satp, n.client, dir, n.outbox, n.logger)

	n.server, err = rpcgrpc.NewServer(serverConfig(cfg), n.logger, n.metrics, n.tracer)
	if err != nil {
		return nil, fmt.Errorf("creating grpc server: %w", err)
	}
	rpcgrpc.RegisterDataTransferServer(n.server, n.driver.DataTransfer())
	rpcgrpc.RegisterEventSubscribeServer(n.server, n.driver.EventSubscribe())
	rpcgrpc.RegisterEventPublishServer(n.server, n.driver.EventPublish())
	rpcgrpc.RegisterDriverCommunicationServer(n.server, n.driver.DriverCommunication())
	rpcgrpc.RegisterNetworkServer(n.server, n.network)
	rpcgrpc.RegisterSATPServer(n.server, n.satp)

	if cfg.Metrics.Enabled {
		n.admin = &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           n.AdminHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return n, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// serverConfig maps the relay config onto the gRPC server config.
func serverConfig(cfg *config.Config) rpcgrpc.Config {
	sc := rpcgrpc.Config{
		ListenAddr:           cfg.Relay.ListenAddr(),
		MaxRecvMsgSize:       cfg.Transport.MaxMessageSize,
		MaxSendMsgSize:       cfg.Transport.MaxMessageSize,
		MaxConcurrentStreams: cfg.RPC.MaxConcurrentStreams,
		Auth: rpcgrpc.AuthConfig{
			Enabled:       cfg.RPC.Auth.Enabled,
			APIKeys:       cfg.RPC.Auth.APIKeys,
			PublicMethods: cfg.RPC.Auth.PublicMethods,
		},
		RateLimit: rpcgrpc.RateLimitConfig{
			Enabled:       cfg.RPC.RateLimit.Enabled,
			GlobalRate:    cfg.RPC.RateLimit.GlobalRate,
			PerClientRate: cfg.RPC.RateLimit.PerClientRate,
			Burst:         cfg.RPC.RateLimit.Burst,
			IdleTimeout:   cfg.RPC.RateLimit.IdleTimeout.Duration(),
			MaxClients:    cfg.RPC.RateLimit.MaxClients,
			ExemptMethods: cfg.RPC.RateLimit.ExemptMethods,
		},
	}
	if cfg.Relay.TLS {
		sc.TLS = &rpcgrpc.TLSConfig{CertFile: cfg.Relay.CertPath, KeyFile: cfg.Relay.KeyPath}
	}
	return sc
}

// Start listens on the configured relay address and serves in the
// background.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.cfg.Relay.ListenAddr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", n.cfg.Relay.ListenAddr(), err)
	}
	if err := n.StartOn(lis); err != nil {
		_ = lis.Close()
		return err
	}
	return nil
}

// StartOn serves the relay services on lis in the background, together
// with the admin endpoint when metrics are enabled.
func (n *Node) StartOn(lis net.Listener) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return ErrAlreadyStarted
	}

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		if err := n.server.Serve(lis); err != nil {
			return fmt.Errorf("serving relay: %w", err)
		}
		return nil
	})
	if n.admin != nil {
		g.Go(func() error {
			err := n.admin.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serving admin endpoint: %w", err)
		})
	}

	n.group, n.groupCtx = g, gctx
	n.started = true
	n.logger.Info("relay started", logging.Target(lis.Addr().String()))
	return nil
}

// Stop shuts the servers down, waits for outbox tasks until ctx ends and
// releases every resource. A stopped Node cannot be started again.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started {
		return ErrNotStarted
	}

	var errs []error
	_ = n.server.Stop()
	if n.admin != nil {
		if err := n.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping admin endpoint: %w", err))
		}
	}
	if err := n.group.Wait(); err != nil {
		errs = append(errs, err)
	}
	if err := n.outbox.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("draining outbox: %w", err))
	}
	if err := n.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing connections: %w", err))
	}
	if err := n.stores.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := n.shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down tracing: %w", err))
	}

	n.started = false
	n.logger.Info("relay stopped")
	if err := n.logCloser.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Run starts the node and blocks until ctx ends or a server fails, then
// stops it within shutdownTimeout.
func (n *Node) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := n.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-n.groupCtx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return n.Stop(stopCtx)
}

// IsRunning returns whether the node is serving.
func (n *Node) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

// Config returns the node configuration.
func (n *Node) Config() *config.Config {
	return n.cfg
}

// Requests returns the view request state machine.
func (n *Node) Requests() *requests.Machine {
	return n.requests
}

// Events returns the event subscription engine.
func (n *Node) Events() *events.Engine {
	return n.events
}

// SATP returns the asset transfer handshake engine.
func (n *Node) SATP() *satp.Engine {
	return n.satp
}

// Outbox returns the dispatcher running forwarding tasks.
func (n *Node) Outbox() *outbox.Dispatcher {
	return n.outbox
}
