// Package client makes outbound gRPC calls to counterpart relays, ledger
// drivers and relays serving local applications.
//
// Connections are cached per target. Every call carries the local relay
// name and the current trace context in its metadata, and every failure
// below the protocol layer is returned wrapped in types.ErrTransport.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/blockberries/relayberry/logging"
	rpcgrpc "github.com/blockberries/relayberry/rpc/grpc"
	"github.com/blockberries/relayberry/tracing/otel"
	"github.com/blockberries/relayberry/types"
)

// Config configures outbound calls.
type Config struct {
	// RelayName is sent as x-relay-name on every call.
	RelayName string

	// CallTimeout bounds calls whose context has no deadline.
	CallTimeout time.Duration

	// MaxMsgSize is the largest response accepted, in bytes.
	MaxMsgSize int
}

// Client dials and calls relay and driver services.
type Client struct {
	cfg    Config
	logger *logging.Logger
	tracer *otel.Tracer

	mu    sync.Mutex
	conns map[types.LocationSegment]*grpc.ClientConn
	// dialOpts are appended to every dial; tests use them to route through
	// an in-memory listener.
	dialOpts []grpc.DialOption
}

// New returns a Client.
func New(cfg Config, logger *logging.Logger, tracer *otel.Tracer, opts ...grpc.DialOption) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if tracer == nil {
		tracer = otel.NewNopTracer()
	}
	return &Client{
		cfg:      cfg,
		logger:   logger.WithComponent("client"),
		tracer:   tracer,
		conns:    make(map[types.LocationSegment]*grpc.ClientConn),
		dialOpts: opts,
	}
}

// conn returns the cached connection for loc, creating it on first use.
func (c *Client) conn(loc types.LocationSegment) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.conns[loc]; ok {
		return cc, nil
	}

	creds, err := transportCredentials(loc)
	if err != nil {
		return nil, err
	}
	callOpts := []grpc.CallOption{grpc.CallContentSubtype(rpcgrpc.CodecName)}
	if c.cfg.MaxMsgSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(c.cfg.MaxMsgSize))
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(callOpts...),
	}, c.dialOpts...)

	cc, err := grpc.NewClient(loc.Target(), opts...)
	if err != nil {
		return nil, err
	}
	c.conns[loc] = cc
	c.logger.Debug("created connection", logging.Target(loc.Target()), "tls", loc.TLS)
	return cc, nil
}

func transportCredentials(loc types.LocationSegment) (credentials.TransportCredentials, error) {
	if !loc.TLS {
		return insecure.NewCredentials(), nil
	}
	if loc.TLSCACertPath == "" {
		return credentials.NewTLS(&tls.Config{ServerName: loc.Hostname, MinVersion: tls.VersionTLS12}), nil
	}
	creds, err := credentials.NewClientTLSFromFile(loc.TLSCACertPath, loc.Hostname)
	if err != nil {
		return nil, fmt.Errorf("loading CA certificate %s: %w", loc.TLSCACertPath, err)
	}
	return creds, nil
}

// invoke performs one unary call against loc.
func (c *Client) invoke(ctx context.Context, loc types.LocationSegment, method string, req, resp any) error {
	cc, err := c.conn(loc)
	if err != nil {
		return types.WrapTransportError(err, loc.Target())
	}

	if _, ok := ctx.Deadline(); !ok && c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	ctx, span := c.tracer.StartSpan(ctx, method, otel.AttrTarget.String(loc.Target()))
	ctx = rpcgrpc.WithRelayName(ctx, c.cfg.RelayName)
	ctx = rpcgrpc.InjectTrace(ctx, c.tracer)

	err = cc.Invoke(ctx, method, req, resp)
	otel.End(span, err)
	if err != nil {
		return types.WrapTransportError(err, loc.Target())
	}
	return nil
}

func invokeAck[Req any](ctx context.Context, c *Client, loc types.LocationSegment, method string, req *Req) (*types.Ack, error) {
	ack := new(types.Ack)
	if err := c.invoke(ctx, loc, method, req, ack); err != nil {
		return nil, err
	}
	return ack, nil
}

// Close closes every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for loc, cc := range c.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, loc)
	}
	return firstErr
}
