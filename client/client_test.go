package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	rpcgrpc "github.com/blockberries/relayberry/rpc/grpc"
	"github.com/blockberries/relayberry/types"
)

type fakeRelay struct {
	callers chan string
}

func (f *fakeRelay) RequestState(ctx context.Context, q *types.Query) (*types.Ack, error) {
	f.callers <- rpcgrpc.CallerRelay(ctx)
	return types.OkAck(q.RequestID, "accepted"), nil
}

func (f *fakeRelay) SendState(_ context.Context, p *types.ViewPayload) (*types.Ack, error) {
	return types.OkAck(p.RequestID, ""), nil
}

func (f *fakeRelay) SendDriverState(_ context.Context, p *types.ViewPayload) (*types.Ack, error) {
	return nil, errors.New("driver state rejected")
}

type fakeDriver struct{}

func (fakeDriver) RequestDriverState(_ context.Context, q *types.Query) (*types.Ack, error) {
	return types.OkAck(q.RequestID, ""), nil
}

func (fakeDriver) SubscribeEvent(_ context.Context, sub *types.EventSubscription) (*types.Ack, error) {
	return types.OkAck(sub.Query.RequestID, sub.Operation.String()), nil
}

func (fakeDriver) RequestSignedEventSubscriptionQuery(_ context.Context, sub *types.EventSubscription) (*types.Query, error) {
	q := sub.Query
	q.RequestorSignature = "signed-by-driver"
	return &q, nil
}

func (fakeDriver) WriteExternalState(_ context.Context, msg *types.WriteExternalStateMessage) (*types.Ack, error) {
	return types.OkAck(msg.ViewPayload.RequestID, "Successfully written"), nil
}

// bufLocation routes through the in-memory listener installed by newClient.
var bufLocation = types.LocationSegment{Hostname: "passthrough:///bufnet", Port: "1"}

func newClient(t *testing.T, relay *fakeRelay) *Client {
	t.Helper()

	srv, err := rpcgrpc.NewServer(rpcgrpc.DefaultConfig(), nil, nil, nil)
	require.NoError(t, err)
	rpcgrpc.RegisterDataTransferServer(srv, relay)
	rpcgrpc.RegisterDriverCommunicationServer(srv, fakeDriver{})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() { _ = srv.Stop() })

	c := New(Config{RelayName: "relay-a", CallTimeout: 5 * time.Second}, nil, nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_RequestState(t *testing.T) {
	relay := &fakeRelay{callers: make(chan string, 1)}
	c := newClient(t, relay)

	ack, err := c.RequestState(context.Background(), bufLocation, &types.Query{RequestID: "r1"})
	require.NoError(t, err)
	assert.True(t, ack.IsOK())
	assert.Equal(t, "accepted", ack.Message)
	assert.Equal(t, "relay-a", <-relay.callers)
}

func TestClient_ReusesConnection(t *testing.T) {
	c := newClient(t, &fakeRelay{callers: make(chan string, 2)})

	_, err := c.SendState(context.Background(), bufLocation, types.NewErrorPayload("r1", "x"))
	require.NoError(t, err)
	_, err = c.SendState(context.Background(), bufLocation, types.NewErrorPayload("r2", "x"))
	require.NoError(t, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.conns, 1)
}

func TestClient_HandlerErrorIsTransport(t *testing.T) {
	c := newClient(t, &fakeRelay{})

	_, err := c.SendDriverState(context.Background(), bufLocation, types.NewErrorPayload("r1", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Contains(t, err.Error(), "driver state rejected")
}

func TestClient_CancelledContext(t *testing.T) {
	relay := &fakeRelay{callers: make(chan string, 1)}
	c := newClient(t, relay)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.RequestState(ctx, bufLocation, &types.Query{RequestID: "r1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Empty(t, relay.callers)
}

func TestClient_DriverCalls(t *testing.T) {
	c := newClient(t, &fakeRelay{})
	ctx := context.Background()
	sub := &types.EventSubscription{Query: types.Query{RequestID: "s1"}, Operation: types.OperationUnsubscribe}

	ack, err := c.DriverSubscribeEvent(ctx, bufLocation, sub)
	require.NoError(t, err)
	assert.Equal(t, "unsubscribe", ack.Message)

	q, err := c.RequestSignedEventSubscriptionQuery(ctx, bufLocation, sub)
	require.NoError(t, err)
	assert.Equal(t, "signed-by-driver", q.RequestorSignature)
	assert.Equal(t, "s1", q.RequestID)

	ack, err = c.WriteExternalState(ctx, bufLocation, &types.WriteExternalStateMessage{ViewPayload: types.NewErrorPayload("r1", "x")})
	require.NoError(t, err)
	assert.Equal(t, "Successfully written", ack.Message)
}

func TestClient_UnreachableTarget(t *testing.T) {
	c := New(Config{CallTimeout: 200 * time.Millisecond}, nil, nil)
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.RequestState(context.Background(), types.LocationSegment{Hostname: "127.0.0.1", Port: "1"}, &types.Query{RequestID: "r1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestClient_MissingCACert(t *testing.T) {
	c := New(Config{}, nil, nil)
	loc := types.LocationSegment{Hostname: "relay", Port: "9080", TLS: true, TLSCACertPath: "/nonexistent/ca.pem"}

	_, err := c.RequestState(context.Background(), loc, &types.Query{RequestID: "r1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)
}
