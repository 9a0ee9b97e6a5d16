package bridge

import (
	"context"

	"github.com/google/uuid"

	"github.com/blockberries/relayberry/events"
	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/outbox"
	"github.com/blockberries/relayberry/requests"
	"github.com/blockberries/relayberry/types"
)

// Handshaker starts asset transfer handshakes.
type Handshaker interface {
	Initiate(loc types.LocationSegment, req *types.TransferCommenceRequest) (*outbox.Task, error)
}

// NetworkBridge serves the networks.Network service for local client
// applications.
type NetworkBridge struct {
	relayName  string
	requests   *requests.Machine
	events     *events.Engine
	handshaker Handshaker
	client     Client
	directory  Directory
	outbox     *outbox.Dispatcher
	logger     *logging.Logger
}

// NewNetworkBridge returns a NetworkBridge. relayName fills in the
// requesting relay of queries that leave it empty.
func NewNetworkBridge(relayName string, reqs *requests.Machine, evs *events.Engine, hs Handshaker, client Client, dir Directory, d *outbox.Dispatcher, logger *logging.Logger) *NetworkBridge {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &NetworkBridge{
		relayName:  relayName,
		requests:   reqs,
		events:     evs,
		handshaker: hs,
		client:     client,
		directory:  dir,
		outbox:     d,
		logger:     logger.WithComponent("network_bridge"),
	}
}

func (b *NetworkBridge) query(nq *types.NetworkQuery, requestID string) types.Query {
	q := nq.ToQuery(requestID)
	if q.RequestingRelay == "" {
		q.RequestingRelay = b.relayName
	}
	return q
}

// relayFor resolves the relay serving a view address.
func (b *NetworkBridge) relayFor(address string) (types.LocationSegment, error) {
	addr, err := types.ParseAddress(address)
	if err != nil {
		return types.LocationSegment{}, err
	}
	return b.directory.ResolveLocation(addr.Location), nil
}

// RequestState creates a view request and forwards it to the relay named
// in its address. The returned ack carries the new request id.
func (b *NetworkBridge) RequestState(_ context.Context, nq *types.NetworkQuery) (*types.Ack, error) {
	if nq == nil {
		return types.ErrorAck("", types.WrapValidationError(types.ErrNilPointer, "query")), nil
	}
	id := uuid.NewString()
	q := b.query(nq, id)
	if err := types.ValidateQuery(&q); err != nil {
		return types.ErrorAck(id, err), nil
	}
	loc, err := b.relayFor(q.Address)
	if err != nil {
		return types.ErrorAck(id, err), nil
	}
	if _, err := b.requests.Create(id); err != nil {
		return types.ErrorAck(id, err), nil
	}

	b.outbox.Go(id, KindRequestState, func(ctx context.Context) error {
		ack, err := b.client.RequestState(ctx, loc, &q)
		if err := checkAck(ack, err, "view request"); err != nil {
			if retryable(err) {
				b.logger.Warn("view request not delivered", logging.RequestID(id), logging.Target(loc.Target()), logging.Error(err))
				return err
			}
			if _, ferr := b.requests.Fail(id, err.Error()); ferr != nil {
				b.logger.Warn("failed to record forward error", logging.RequestID(id), logging.Error(ferr))
			}
			return err
		}
		_, err = b.requests.MarkPending(id)
		return err
	})

	b.logger.Info("view requested", logging.RequestID(id), logging.Target(loc.Target()))
	return types.OkAck(id, ""), nil
}

// GetState polls a view request. A finished request is returned once and
// then kept as Deleted.
func (b *NetworkBridge) GetState(_ context.Context, msg *types.GetStateMessage) (*types.RequestState, error) {
	if msg == nil || msg.RequestID == "" {
		return nil, types.WrapValidationError(types.ErrEmptyData, "request_id")
	}
	return b.requests.Fetch(msg.RequestID)
}

// SubscribeEvent creates a subscription and forwards it, countersigned by
// the requesting network's driver, to the relay named in its address.
func (b *NetworkBridge) SubscribeEvent(_ context.Context, ns *types.NetworkEventSubscription) (*types.Ack, error) {
	if ns == nil {
		return types.ErrorAck("", types.WrapValidationError(types.ErrNilPointer, "event subscription")), nil
	}
	id := uuid.NewString()
	sub := types.EventSubscription{
		EventMatcher: ns.EventMatcher,
		Query:        b.query(&ns.Query, id),
		Operation:    types.OperationSubscribe,
	}
	loc, driver, err := b.subscriptionRoute(&sub)
	if err != nil {
		return types.ErrorAck(id, err), nil
	}
	if _, err := b.events.Subscribe(id, &sub, ns.EventPublicationSpec); err != nil {
		return types.ErrorAck(id, err), nil
	}

	b.outbox.Go(id, KindSubscribeEvent, func(ctx context.Context) error {
		return b.forwardSubscription(ctx, loc, driver, sub)
	})
	return types.OkAck(id, ""), nil
}

// UnsubscribeEvent cancels a subscription at the publishing relay.
func (b *NetworkBridge) UnsubscribeEvent(_ context.Context, req *types.NetworkEventUnsubscription) (*types.Ack, error) {
	if req == nil || req.RequestID == "" {
		return types.ErrorAck("", types.WrapValidationError(types.ErrEmptyData, "request_id")), nil
	}
	id := req.RequestID
	rec, err := b.events.Get(id)
	if err != nil {
		return types.ErrorAck(id, err), nil
	}
	sub := types.EventSubscription{
		EventMatcher: rec.EventMatcher,
		Query:        rec.Query,
		Operation:    types.OperationUnsubscribe,
	}
	loc, driver, err := b.subscriptionRoute(&sub)
	if err != nil {
		return types.ErrorAck(id, err), nil
	}
	if _, err := b.events.Unsubscribe(id); err != nil {
		return types.ErrorAck(id, err), nil
	}

	b.outbox.Go(id, KindUnsubscribeEvent, func(ctx context.Context) error {
		return b.forwardSubscription(ctx, loc, driver, sub)
	})
	return types.OkAck(id, ""), nil
}

// subscriptionRoute resolves the publishing relay and the driver that
// countersigns the query.
func (b *NetworkBridge) subscriptionRoute(sub *types.EventSubscription) (relay, driver types.LocationSegment, err error) {
	if err = types.ValidateQuery(&sub.Query); err != nil {
		return relay, driver, err
	}
	if relay, err = b.relayFor(sub.Query.Address); err != nil {
		return relay, driver, err
	}
	driver, err = b.directory.NetworkDriver(sub.Query.RequestingNetwork)
	return relay, driver, err
}

func (b *NetworkBridge) forwardSubscription(ctx context.Context, relay, driver types.LocationSegment, sub types.EventSubscription) error {
	id := sub.Query.RequestID
	err := b.sendSubscription(ctx, relay, driver, &sub)
	if err != nil {
		if retryable(err) {
			b.logger.Warn("subscription not delivered", logging.RequestID(id), logging.Target(relay.Target()), logging.Error(err))
			return err
		}
		if _, ferr := b.events.Fail(id, err.Error()); ferr != nil {
			b.logger.Warn("failed to record subscription error", logging.RequestID(id), logging.Error(ferr))
		}
	}
	return err
}

func (b *NetworkBridge) sendSubscription(ctx context.Context, relay, driver types.LocationSegment, sub *types.EventSubscription) error {
	signed, err := b.client.RequestSignedEventSubscriptionQuery(ctx, driver, sub)
	if err != nil {
		return err
	}
	id := sub.Query.RequestID
	sub.Query = *signed
	sub.Query.RequestID = id

	ack, err := b.client.SubscribeEvent(ctx, relay, sub)
	if err := checkAck(ack, err, sub.Operation.String()); err != nil {
		return err
	}
	_, err = b.events.MarkAcked(sub.Query.RequestID, ack.RequestID)
	return err
}

// GetEventSubscriptionState returns a subscription record.
func (b *NetworkBridge) GetEventSubscriptionState(_ context.Context, msg *types.GetStateMessage) (*types.EventSubscriptionState, error) {
	if msg == nil || msg.RequestID == "" {
		return nil, types.WrapValidationError(types.ErrEmptyData, "request_id")
	}
	return b.events.Get(msg.RequestID)
}

// RequestAssetTransfer opens an asset transfer handshake with the gateway
// named in the address. The returned ack carries the session id.
func (b *NetworkBridge) RequestAssetTransfer(_ context.Context, at *types.NetworkAssetTransfer) (*types.Ack, error) {
	if at == nil {
		return types.ErrorAck("", types.WrapValidationError(types.ErrNilPointer, "asset transfer")), nil
	}
	if at.AssetType == "" || at.AssetID == "" {
		return types.ErrorAck("", types.WrapValidationError(types.ErrEmptyData, "asset")), nil
	}
	loc, err := b.relayFor(at.Address)
	if err != nil {
		return types.ErrorAck("", err), nil
	}

	req := &types.TransferCommenceRequest{
		MessageType:          types.MessageTypeTransferCommence,
		SessionID:            uuid.NewString(),
		TransferContextID:    uuid.NewString(),
		ClientIdentityPubkey: at.Sender,
		ServerIdentityPubkey: at.Recipient,
		HashAssetProfile:     types.HashBytes([]byte(at.AssetType + "/" + at.AssetID)).String(),
		ClientSignature:      at.RequestorSignature,
	}
	if _, err := b.handshaker.Initiate(loc, req); err != nil {
		return types.ErrorAck(req.SessionID, err), nil
	}
	return types.OkAck(req.SessionID, ""), nil
}
