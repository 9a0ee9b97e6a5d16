package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/relayberry/config"
	"github.com/blockberries/relayberry/events"
	"github.com/blockberries/relayberry/outbox"
	"github.com/blockberries/relayberry/requests"
	"github.com/blockberries/relayberry/store"
	"github.com/blockberries/relayberry/types"
)

const (
	remoteAddress = "relay-b.example:9081/network2/mychannel:simplestate:Read:a"
	localAddress  = "localhost:9080/network1/mychannel:simplestate:Read:a"
)

var (
	relayB      = types.LocationSegment{Hostname: "relay-b.example", Port: "9081", TLS: true, TLSCACertPath: "ca.pem"}
	fabricLoc   = types.LocationSegment{Hostname: "localhost", Port: "9090"}
	errDialFail = types.WrapTransportError(errors.New("connection refused"), "relay-b.example:9081")
)

type call struct {
	method string
	loc    types.LocationSegment
	msg    any
}

// fakeClient records outbound calls and answers them with Ok acks unless
// told otherwise.
type fakeClient struct {
	mu     sync.Mutex
	calls  []call
	fail   map[string]error
	reject map[string]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{fail: map[string]error{}, reject: map[string]string{}}
}

func (c *fakeClient) answer(method string, loc types.LocationSegment, msg any, requestID string) (*types.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{method: method, loc: loc, msg: msg})
	if err, ok := c.fail[method]; ok {
		return nil, err
	}
	if reason, ok := c.reject[method]; ok {
		return types.ErrorAckMessage(requestID, reason), nil
	}
	return types.OkAck(requestID, ""), nil
}

func (c *fakeClient) failing(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[method] = err
}

func (c *fakeClient) recovering(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fail, method)
}

func (c *fakeClient) rejecting(method, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject[method] = reason
}

func (c *fakeClient) called(method string) []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []call
	for _, cl := range c.calls {
		if cl.method == method {
			out = append(out, cl)
		}
	}
	return out
}

func (c *fakeClient) RequestState(_ context.Context, loc types.LocationSegment, q *types.Query) (*types.Ack, error) {
	return c.answer("RequestState", loc, q, q.RequestID)
}

func (c *fakeClient) SendState(_ context.Context, loc types.LocationSegment, p *types.ViewPayload) (*types.Ack, error) {
	return c.answer("SendState", loc, p, p.RequestID)
}

func (c *fakeClient) SubscribeEvent(_ context.Context, loc types.LocationSegment, sub *types.EventSubscription) (*types.Ack, error) {
	return c.answer("SubscribeEvent", loc, sub, sub.Query.RequestID)
}

func (c *fakeClient) SendSubscriptionStatus(_ context.Context, loc types.LocationSegment, ack *types.Ack) (*types.Ack, error) {
	return c.answer("SendSubscriptionStatus", loc, ack, ack.RequestID)
}

func (c *fakeClient) SendEventState(_ context.Context, loc types.LocationSegment, p *types.ViewPayload) (*types.Ack, error) {
	return c.answer("SendEventState", loc, p, p.RequestID)
}

func (c *fakeClient) RequestDriverState(_ context.Context, loc types.LocationSegment, q *types.Query) (*types.Ack, error) {
	return c.answer("RequestDriverState", loc, q, q.RequestID)
}

func (c *fakeClient) DriverSubscribeEvent(_ context.Context, loc types.LocationSegment, sub *types.EventSubscription) (*types.Ack, error) {
	return c.answer("DriverSubscribeEvent", loc, sub, sub.Query.RequestID)
}

func (c *fakeClient) RequestSignedEventSubscriptionQuery(_ context.Context, loc types.LocationSegment, sub *types.EventSubscription) (*types.Query, error) {
	if _, err := c.answer("RequestSignedEventSubscriptionQuery", loc, sub, sub.Query.RequestID); err != nil {
		return nil, err
	}
	q := sub.Query
	q.RequestorSignature = "signed-by-driver"
	q.RequestID = ""
	return &q, nil
}

func (c *fakeClient) WriteExternalState(_ context.Context, loc types.LocationSegment, msg *types.WriteExternalStateMessage) (*types.Ack, error) {
	return c.answer("WriteExternalState", loc, msg, msg.ViewPayload.RequestID)
}

type fakeHandshaker struct {
	mu  sync.Mutex
	loc types.LocationSegment
	req *types.TransferCommenceRequest
	err error
}

func (h *fakeHandshaker) Initiate(loc types.LocationSegment, req *types.TransferCommenceRequest) (*outbox.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	h.loc, h.req = loc, req
	return nil, nil
}

type fixture struct {
	cfg       *config.Config
	client    *fakeClient
	hs        *fakeHandshaker
	requests  *requests.Machine
	events    *events.Engine
	outbox    *outbox.Dispatcher
	publisher *Publisher
	driver    *DriverBridge
	network   *NetworkBridge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	opts := store.DefaultOptions()
	open := func(table string) *store.Store {
		return store.New(table, filepath.Join(dir, table), opts)
	}

	cfg := config.DefaultConfig()
	cfg.Relay.Name = "relay-a"
	cfg.Drivers["fabric"] = fabricLoc
	cfg.Networks["network1"] = config.NetworkConfig{Driver: "fabric"}
	cfg.Relays["relay-a"] = types.LocationSegment{Hostname: "localhost", Port: "9080"}
	cfg.Relays["relay-b"] = relayB
	directory := cfg.Directory()

	f := &fixture{
		cfg:    cfg,
		client: newFakeClient(),
		hs:     &fakeHandshaker{},
		outbox: outbox.New(5*time.Second, nil, nil, nil),
	}
	f.requests = requests.New(open(store.TableRequests), open(store.TableRemoteRequests), nil, nil)
	f.events = events.New(open(store.TableEvents), open(store.TableRemoteEvents), f.requests, nil, nil)
	f.publisher = NewPublisher(f.requests, f.client, directory, f.outbox, nil, nil)
	f.driver = NewDriverBridge(f.requests, f.events, f.client, directory, f.outbox, f.publisher, nil)
	f.network = NewNetworkBridge(cfg.Relay.Name, f.requests, f.events, f.hs, f.client, directory, f.outbox, nil)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.outbox.Stop(ctx)
	})
	return f
}

// settle waits for every outbox task to finish.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.outbox.Wait(ctx))
}

func TestCheckAck(t *testing.T) {
	require.NoError(t, checkAck(types.OkAck("r1", ""), nil, "x"))

	err := checkAck(types.ErrorAckMessage("r1", "nope"), nil, "view request")
	require.ErrorIs(t, err, types.ErrProtocol)
	require.Contains(t, err.Error(), "view request rejected: nope")

	err = checkAck(nil, errDialFail, "x")
	require.ErrorIs(t, err, errDialFail)
	assert.True(t, retryable(err))
	assert.False(t, retryable(checkAck(types.ErrorAckMessage("r1", "nope"), nil, "x")))
}
