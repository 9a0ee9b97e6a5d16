package events

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/relayberry/requests"
	"github.com/blockberries/relayberry/store"
	"github.com/blockberries/relayberry/types"
)

type fixture struct {
	engine   *Engine
	requests *requests.Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	opts := store.DefaultOptions()
	open := func(table string) *store.Store {
		return store.New(table, filepath.Join(dir, table), opts)
	}

	reqs := requests.New(open(store.TableRequests), open(store.TableRemoteRequests), nil, nil)
	return &fixture{
		engine:   New(open(store.TableEvents), open(store.TableRemoteEvents), reqs, nil, nil),
		requests: reqs,
	}
}

func testSubscription() *types.EventSubscription {
	return &types.EventSubscription{
		EventMatcher: types.EventMatcher{
			EventType:    types.EventTypeLedgerState,
			EventClassID: "TransferEvent",
		},
		Query: types.Query{
			Address:           "localhost:9081/network1/mychannel:simplestate:Read:a",
			RequestingRelay:   "relay2",
			RequestingNetwork: "network2",
			Nonce:             "n1",
		},
		Operation: types.OperationSubscribe,
	}
}

func testPublications() []types.EventPublication {
	return []types.EventPublication{{AppURL: &types.AppURL{URL: "http://localhost:9999/events"}}}
}

func (f *fixture) subscribed(t *testing.T, id string) {
	t.Helper()
	_, err := f.engine.Subscribe(id, testSubscription(), testPublications())
	require.NoError(t, err)
	_, err = f.engine.MarkAcked(id, id)
	require.NoError(t, err)
	rec, err := f.engine.Confirm(types.OkAck(id, "subscribed"))
	require.NoError(t, err)
	require.Equal(t, types.Subscribed, rec.Status)
}

func TestEngine_SubscribeLifecycle(t *testing.T) {
	f := newFixture(t)

	rec, err := f.engine.Subscribe("s1", testSubscription(), testPublications())
	require.NoError(t, err)
	assert.Equal(t, types.SubscribePendingAck, rec.Status)

	req, err := f.requests.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingAck, req.Status)

	rec, err = f.engine.MarkAcked("s1", "remote-s1")
	require.NoError(t, err)
	assert.Equal(t, types.SubscribePending, rec.Status)
	assert.Equal(t, "remote-s1", rec.PublishingRequestID)

	req, err = f.requests.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, req.Status)

	rec, err = f.engine.Confirm(types.OkAck("s1", ""))
	require.NoError(t, err)
	assert.Equal(t, types.Subscribed, rec.Status)

	pubs, err := f.engine.Publications("s1")
	require.NoError(t, err)
	assert.Equal(t, testPublications(), pubs)
}

func TestEngine_DuplicateSubscription(t *testing.T) {
	f := newFixture(t)
	f.subscribed(t, "s1")

	// Only per-request material differs.
	dup := testSubscription()
	dup.Query.Nonce = "n2"

	rec, err := f.engine.Subscribe("s2", dup, testPublications())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDuplicateSubscription)
	require.NotNil(t, rec)
	assert.Equal(t, types.DuplicateQuerySubscribed, rec.Status)
	assert.Equal(t, "s1", rec.PublishingRequestID)

	_, err = f.engine.Get("s2")
	assert.ErrorIs(t, err, types.ErrProtocol)

	recs, err := f.engine.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "s1", recs[0].RequestID)
}

func TestEngine_SubscribeRollsBackWhenRequestExists(t *testing.T) {
	f := newFixture(t)
	_, err := f.requests.Create("s1")
	require.NoError(t, err)

	_, err = f.engine.Subscribe("s1", testSubscription(), testPublications())
	require.ErrorIs(t, err, types.ErrProtocol)

	_, err = f.engine.Get("s1")
	assert.ErrorIs(t, err, types.ErrProtocol)
	recs, err := f.engine.List()
	require.NoError(t, err)
	assert.Empty(t, recs)

	// The dedup key was released with the record.
	rec, err := f.engine.Subscribe("s2", testSubscription(), testPublications())
	require.NoError(t, err)
	assert.Equal(t, types.SubscribePendingAck, rec.Status)
}

func TestEngine_SubscribeExistingID(t *testing.T) {
	f := newFixture(t)
	f.subscribed(t, "s1")

	other := testSubscription()
	other.Query.Address = "localhost:9081/network1/mychannel:simplestate:Read:b"
	_, err := f.engine.Subscribe("s1", other, testPublications())
	require.ErrorIs(t, err, types.ErrProtocol)

	rec, err := f.engine.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, types.Subscribed, rec.Status)
	assert.Equal(t, testSubscription().Query.Address, rec.Query.Address)
}

func TestEngine_ResubscribeAfterUnsubscribe(t *testing.T) {
	f := newFixture(t)
	f.subscribed(t, "s1")

	rec, err := f.engine.Unsubscribe("s1")
	require.NoError(t, err)
	assert.Equal(t, types.UnsubscribePendingAck, rec.Status)

	_, err = f.engine.MarkAcked("s1", "s1")
	require.NoError(t, err)

	rec, err = f.engine.Confirm(types.OkAck("s1", "unsubscribed"))
	require.NoError(t, err)
	assert.Equal(t, types.Unsubscribed, rec.Status)

	req, err := f.requests.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, req.Status)

	rec, err = f.engine.Subscribe("s2", testSubscription(), testPublications())
	require.NoError(t, err)
	assert.Equal(t, types.SubscribePendingAck, rec.Status)
}

func TestEngine_ErrorFreesDedupKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Subscribe("s1", testSubscription(), nil)
	require.NoError(t, err)

	rec, err := f.engine.Confirm(types.ErrorAckMessage("s1", "driver rejected subscription"))
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionError, rec.Status)
	assert.Equal(t, "driver rejected subscription", rec.Message)

	req, err := f.requests.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, req.Status)

	_, err = f.engine.Subscribe("s2", testSubscription(), nil)
	require.NoError(t, err)
}

func TestEngine_DeliverEvents(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Subscribe("s1", testSubscription(), testPublications())
	require.NoError(t, err)

	view := &types.View{Meta: types.Meta{Protocol: types.ProtocolFabric}, Data: []byte("event")}

	_, err = f.engine.Deliver(types.NewViewPayload("s1", view))
	assert.ErrorIs(t, err, types.ErrProtocol, "not subscribed yet")

	_, err = f.engine.Confirm(types.OkAck("s1", ""))
	require.NoError(t, err)

	_, err = f.engine.Deliver(types.NewViewPayload("s1", view))
	require.NoError(t, err)

	req, err := f.requests.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusEventReceived, req.Status)
	assert.Equal(t, view, req.View)

	_, err = f.engine.Deliver(types.NewViewPayload("unknown", view))
	assert.ErrorIs(t, err, types.ErrProtocol)
}

func TestEngine_UnsubscribeCompletesRequestWithEvents(t *testing.T) {
	f := newFixture(t)
	f.subscribed(t, "s1")

	view := &types.View{Data: []byte("event")}
	_, err := f.engine.Deliver(types.NewViewPayload("s1", view))
	require.NoError(t, err)

	_, err = f.engine.Unsubscribe("s1")
	require.NoError(t, err)
	_, err = f.engine.Confirm(types.OkAck("s1", ""))
	require.NoError(t, err)

	req, err := f.requests.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, req.Status)
	assert.Equal(t, view, req.View)
}

func TestEngine_Update(t *testing.T) {
	f := newFixture(t)
	f.subscribed(t, "s1")

	pubs := []types.EventPublication{{ContractTransaction: &types.ContractTransaction{
		DriverID:   "Fabric",
		LedgerID:   "mychannel",
		ContractID: "simplestate",
		Func:       "Create",
	}}}
	rec, err := f.engine.Update("s1", pubs)
	require.NoError(t, err)
	assert.Equal(t, pubs, rec.EventPublicationSpecs)

	_, err = f.engine.Update("s1", []types.EventPublication{{}})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestEngine_UnsubscribeRequiresSubscribed(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Subscribe("s1", testSubscription(), nil)
	require.NoError(t, err)

	_, err = f.engine.Unsubscribe("s1")
	assert.ErrorIs(t, err, types.ErrProtocol)

	_, err = f.engine.Unsubscribe("missing")
	assert.ErrorIs(t, err, types.ErrProtocol)
}

func TestEngine_Remote(t *testing.T) {
	f := newFixture(t)

	sub := testSubscription()
	assert.ErrorIs(t, f.engine.RecordRemote(sub), types.ErrValidation)

	sub.Query.RequestID = "s1"
	require.NoError(t, f.engine.RecordRemote(sub))

	rec, err := f.engine.Remote("s1")
	require.NoError(t, err)
	assert.Equal(t, *sub, rec.Subscription)

	_, err = f.engine.Remote("s2")
	assert.ErrorIs(t, err, types.ErrProtocol)
}
