package bridge

import (
	"context"

	"github.com/blockberries/relayberry/events"
	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/outbox"
	"github.com/blockberries/relayberry/requests"
	rpcgrpc "github.com/blockberries/relayberry/rpc/grpc"
	"github.com/blockberries/relayberry/types"
)

// Messages returned by WriteExternalState.
const (
	MsgSuccessfullyWritten = "Successfully written"
	MsgErrorReceivedPrefix = "Error received: "
)

// DriverBridge handles calls from counterpart relays and from the local
// driver.
type DriverBridge struct {
	requests  *requests.Machine
	events    *events.Engine
	client    Client
	directory Directory
	outbox    *outbox.Dispatcher
	publisher *Publisher
	logger    *logging.Logger
}

// NewDriverBridge returns a DriverBridge.
func NewDriverBridge(reqs *requests.Machine, evs *events.Engine, client Client, dir Directory, d *outbox.Dispatcher, pub *Publisher, logger *logging.Logger) *DriverBridge {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &DriverBridge{
		requests:  reqs,
		events:    evs,
		client:    client,
		directory: dir,
		outbox:    d,
		publisher: pub,
		logger:    logger.WithComponent("driver_bridge"),
	}
}

// RequestState serves a view request from another relay: the query is
// recorded for routing the answer back and forwarded to the driver of the
// addressed network.
func (b *DriverBridge) RequestState(_ context.Context, q *types.Query) (*types.Ack, error) {
	if err := types.ValidateQuery(q); err != nil {
		return types.ErrorAck(requestIDOf(q), err), nil
	}
	addr, err := types.ParseAddress(q.Address)
	if err != nil {
		return types.ErrorAck(q.RequestID, err), nil
	}
	driver, err := b.directory.NetworkDriver(addr.NetworkID)
	if err != nil {
		return types.ErrorAck(q.RequestID, err), nil
	}
	if err := b.requests.RecordRemote(q); err != nil {
		return types.ErrorAck(q.RequestID, err), nil
	}

	query := *q
	b.outbox.Go(query.RequestID, KindRequestDriverState, func(ctx context.Context) error {
		ack, err := b.client.RequestDriverState(ctx, driver, &query)
		if err := checkAck(ack, err, "driver state request"); err != nil {
			b.returnError(ctx, query.RequestingRelay, query.RequestID, err)
			return err
		}
		return nil
	})
	return types.OkAck(q.RequestID, ""), nil
}

// returnError sends an error payload back to the requesting relay so its
// record does not stay pending.
func (b *DriverBridge) returnError(ctx context.Context, relay, requestID string, cause error) {
	loc, err := b.directory.Relay(relay)
	if err == nil {
		var ack *types.Ack
		ack, err = b.client.SendState(ctx, loc, types.NewErrorPayload(requestID, cause.Error()))
		err = checkAck(ack, err, "error report")
	}
	if err != nil {
		b.logger.Warn("failed to report error to requester",
			logging.RequestID(requestID),
			logging.Relay(relay),
			logging.Error(err),
		)
	}
}

// SendDriverState routes the driver's answer to the relay that asked.
func (b *DriverBridge) SendDriverState(_ context.Context, p *types.ViewPayload) (*types.Ack, error) {
	if err := p.Validate(); err != nil {
		return types.ErrorAck(payloadIDOf(p), err), nil
	}
	remote, err := b.requests.Remote(p.RequestID)
	if err != nil {
		return types.ErrorAck(p.RequestID, err), nil
	}
	loc, err := b.directory.Relay(remote.Query.RequestingRelay)
	if err != nil {
		return types.ErrorAck(p.RequestID, err), nil
	}

	payload := *p
	b.outbox.Go(p.RequestID, KindSendState, func(ctx context.Context) error {
		ack, err := b.client.SendState(ctx, loc, &payload)
		return checkAck(ack, err, "view delivery")
	})
	return types.OkAck(p.RequestID, ""), nil
}

// SendState applies a view or error delivered by the serving relay.
func (b *DriverBridge) SendState(_ context.Context, p *types.ViewPayload) (*types.Ack, error) {
	if _, err := b.requests.Deliver(p); err != nil {
		return types.ErrorAck(payloadIDOf(p), err), nil
	}
	return types.OkAck(p.RequestID, ""), nil
}

// SubscribeEvent serves a subscribe, unsubscribe or update from another
// relay by forwarding it to the driver of the addressed network.
func (b *DriverBridge) SubscribeEvent(_ context.Context, sub *types.EventSubscription) (*types.Ack, error) {
	if sub == nil {
		return types.ErrorAck("", types.WrapValidationError(types.ErrNilPointer, "event subscription")), nil
	}
	id := sub.Query.RequestID
	if err := types.ValidateQuery(&sub.Query); err != nil {
		return types.ErrorAck(id, err), nil
	}
	addr, err := types.ParseAddress(sub.Query.Address)
	if err != nil {
		return types.ErrorAck(id, err), nil
	}
	driver, err := b.directory.NetworkDriver(addr.NetworkID)
	if err != nil {
		return types.ErrorAck(id, err), nil
	}
	if err := b.events.RecordRemote(sub); err != nil {
		return types.ErrorAck(id, err), nil
	}

	fwd := *sub
	b.outbox.Go(id, "driver_"+fwd.Operation.String(), func(ctx context.Context) error {
		ack, err := b.client.DriverSubscribeEvent(ctx, driver, &fwd)
		if err := checkAck(ack, err, "driver subscription"); err != nil {
			b.returnSubscriptionError(ctx, fwd.Query.RequestingRelay, id, err)
			return err
		}
		return nil
	})
	return types.OkAck(id, ""), nil
}

func (b *DriverBridge) returnSubscriptionError(ctx context.Context, relay, requestID string, cause error) {
	loc, err := b.directory.Relay(relay)
	if err == nil {
		var ack *types.Ack
		ack, err = b.client.SendSubscriptionStatus(ctx, loc, types.ErrorAck(requestID, cause))
		err = checkAck(ack, err, "subscription status")
	}
	if err != nil {
		b.logger.Warn("failed to report subscription error to requester",
			logging.RequestID(requestID),
			logging.Relay(relay),
			logging.Error(err),
		)
	}
}

// SendDriverSubscriptionStatus routes the driver's subscription outcome to
// the subscribing relay.
func (b *DriverBridge) SendDriverSubscriptionStatus(_ context.Context, ack *types.Ack) (*types.Ack, error) {
	if ack == nil {
		return types.ErrorAck("", types.WrapValidationError(types.ErrNilPointer, "ack")), nil
	}
	remote, err := b.events.Remote(ack.RequestID)
	if err != nil {
		return types.ErrorAck(ack.RequestID, err), nil
	}
	loc, err := b.directory.Relay(remote.Subscription.Query.RequestingRelay)
	if err != nil {
		return types.ErrorAck(ack.RequestID, err), nil
	}

	status := *ack
	b.outbox.Go(ack.RequestID, KindSendSubscriptionStatus, func(ctx context.Context) error {
		resp, err := b.client.SendSubscriptionStatus(ctx, loc, &status)
		return checkAck(resp, err, "subscription status")
	})
	return types.OkAck(ack.RequestID, ""), nil
}

// SendSubscriptionStatus applies the final subscription outcome reported
// by the publishing relay.
func (b *DriverBridge) SendSubscriptionStatus(_ context.Context, ack *types.Ack) (*types.Ack, error) {
	if _, err := b.events.Confirm(ack); err != nil {
		var id string
		if ack != nil {
			id = ack.RequestID
		}
		return types.ErrorAck(id, err), nil
	}
	return types.OkAck(ack.RequestID, ""), nil
}

// SendDriverEventState routes an event the driver observed to the
// subscribing relay.
func (b *DriverBridge) SendDriverEventState(_ context.Context, p *types.ViewPayload) (*types.Ack, error) {
	if err := p.Validate(); err != nil {
		return types.ErrorAck(payloadIDOf(p), err), nil
	}
	remote, err := b.events.Remote(p.RequestID)
	if err != nil {
		return types.ErrorAck(p.RequestID, err), nil
	}
	loc, err := b.directory.Relay(remote.Subscription.Query.RequestingRelay)
	if err != nil {
		return types.ErrorAck(p.RequestID, err), nil
	}

	payload := *p
	b.outbox.Go(p.RequestID, KindSendEventState, func(ctx context.Context) error {
		ack, err := b.client.SendEventState(ctx, loc, &payload)
		return checkAck(ack, err, "event delivery")
	})
	return types.OkAck(p.RequestID, ""), nil
}

// SendEventState records an event delivered for a local subscription and
// publishes it to the subscription's targets.
func (b *DriverBridge) SendEventState(_ context.Context, p *types.ViewPayload) (*types.Ack, error) {
	rec, err := b.events.Deliver(p)
	if err != nil {
		return types.ErrorAck(payloadIDOf(p), err), nil
	}
	b.publisher.Publish(p, rec.EventPublicationSpecs)
	return types.OkAck(p.RequestID, ""), nil
}

// RequestSignedEventSubscriptionQuery has the driver of the requesting
// network countersign a subscription query. The relay never signs.
func (b *DriverBridge) RequestSignedEventSubscriptionQuery(ctx context.Context, sub *types.EventSubscription) (*types.Query, error) {
	if sub == nil {
		return nil, types.WrapValidationError(types.ErrNilPointer, "event subscription")
	}
	driver, err := b.directory.NetworkDriver(sub.Query.RequestingNetwork)
	if err != nil {
		return nil, err
	}
	return b.client.RequestSignedEventSubscriptionQuery(ctx, driver, sub)
}

// WriteExternalState acknowledges a write report without touching any
// ledger.
func (b *DriverBridge) WriteExternalState(_ context.Context, msg *types.WriteExternalStateMessage) (*types.Ack, error) {
	if msg == nil || msg.ViewPayload == nil {
		return types.ErrorAck("", types.WrapValidationError(types.ErrNilPointer, "view_payload")), nil
	}
	p := msg.ViewPayload
	if err := p.Validate(); err != nil {
		return types.ErrorAck(p.RequestID, err), nil
	}
	if p.IsError() {
		return types.ErrorAckMessage(p.RequestID, MsgErrorReceivedPrefix+p.Error), nil
	}
	return types.OkAck(p.RequestID, MsgSuccessfullyWritten), nil
}

// DataTransfer returns the relay.DataTransfer service.
func (b *DriverBridge) DataTransfer() rpcgrpc.DataTransferServer {
	return dataTransfer{b}
}

// EventSubscribe returns the relay.EventSubscribe service.
func (b *DriverBridge) EventSubscribe() rpcgrpc.EventSubscribeServer {
	return b
}

// EventPublish returns the relay.EventPublish service.
func (b *DriverBridge) EventPublish() rpcgrpc.EventPublishServer {
	return eventPublish{b}
}

// DriverCommunication returns the relay's driver.DriverCommunication
// endpoint.
func (b *DriverBridge) DriverCommunication() rpcgrpc.DriverCommunicationServer {
	return driverEndpoint{b}
}

type dataTransfer struct{ b *DriverBridge }

func (s dataTransfer) RequestState(ctx context.Context, q *types.Query) (*types.Ack, error) {
	return s.b.RequestState(ctx, q)
}

func (s dataTransfer) SendState(ctx context.Context, p *types.ViewPayload) (*types.Ack, error) {
	return s.b.SendState(ctx, p)
}

func (s dataTransfer) SendDriverState(ctx context.Context, p *types.ViewPayload) (*types.Ack, error) {
	return s.b.SendDriverState(ctx, p)
}

type eventPublish struct{ b *DriverBridge }

func (s eventPublish) SendDriverState(ctx context.Context, p *types.ViewPayload) (*types.Ack, error) {
	return s.b.SendDriverEventState(ctx, p)
}

func (s eventPublish) SendState(ctx context.Context, p *types.ViewPayload) (*types.Ack, error) {
	return s.b.SendEventState(ctx, p)
}

type driverEndpoint struct{ b *DriverBridge }

func (s driverEndpoint) RequestDriverState(ctx context.Context, q *types.Query) (*types.Ack, error) {
	return s.b.RequestState(ctx, q)
}

func (s driverEndpoint) SubscribeEvent(ctx context.Context, sub *types.EventSubscription) (*types.Ack, error) {
	return s.b.SubscribeEvent(ctx, sub)
}

func (s driverEndpoint) RequestSignedEventSubscriptionQuery(ctx context.Context, sub *types.EventSubscription) (*types.Query, error) {
	return s.b.RequestSignedEventSubscriptionQuery(ctx, sub)
}

func (s driverEndpoint) WriteExternalState(ctx context.Context, msg *types.WriteExternalStateMessage) (*types.Ack, error) {
	return s.b.WriteExternalState(ctx, msg)
}

func requestIDOf(q *types.Query) string {
	if q == nil {
		return ""
	}
	return q.RequestID
}

func payloadIDOf(p *types.ViewPayload) string {
	if p == nil {
		return ""
	}
	return p.RequestID
}
