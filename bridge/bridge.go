// Package bridge connects the relay's gRPC services to its state machines.
//
// DriverBridge serves counterpart relays and the local ledger driver;
// NetworkBridge serves local client applications. Synchronous handlers
// only validate, persist and acknowledge. Every outbound call runs as a
// detached outbox task keyed by the request id, so a slow or failing
// counterpart never holds up the caller and a failed forward stays
// inspectable and retriable.
package bridge

import (
	"context"
	"errors"

	"github.com/blockberries/relayberry/types"
)

// Outbox task kinds.
const (
	KindRequestState           = "request_state"
	KindRequestDriverState     = "request_driver_state"
	KindSendState              = "send_state"
	KindSubscribeEvent         = "subscribe_event"
	KindUnsubscribeEvent       = "unsubscribe_event"
	KindSendSubscriptionStatus = "send_subscription_status"
	KindSendEventState         = "send_event_state"
	KindPublishEvent           = "publish_event"
)

// Directory resolves relays, drivers and networks to locations.
type Directory interface {
	Relay(name string) (types.LocationSegment, error)
	Driver(name string) (types.LocationSegment, error)
	NetworkDriver(networkID string) (types.LocationSegment, error)
	ResolveLocation(loc types.LocationSegment) types.LocationSegment
}

// RelayClient calls counterpart relays.
type RelayClient interface {
	RequestState(ctx context.Context, loc types.LocationSegment, q *types.Query) (*types.Ack, error)
	SendState(ctx context.Context, loc types.LocationSegment, p *types.ViewPayload) (*types.Ack, error)
	SubscribeEvent(ctx context.Context, loc types.LocationSegment, sub *types.EventSubscription) (*types.Ack, error)
	SendSubscriptionStatus(ctx context.Context, loc types.LocationSegment, ack *types.Ack) (*types.Ack, error)
	SendEventState(ctx context.Context, loc types.LocationSegment, p *types.ViewPayload) (*types.Ack, error)
}

// DriverClient calls ledger drivers.
type DriverClient interface {
	RequestDriverState(ctx context.Context, loc types.LocationSegment, q *types.Query) (*types.Ack, error)
	DriverSubscribeEvent(ctx context.Context, loc types.LocationSegment, sub *types.EventSubscription) (*types.Ack, error)
	RequestSignedEventSubscriptionQuery(ctx context.Context, loc types.LocationSegment, sub *types.EventSubscription) (*types.Query, error)
	WriteExternalState(ctx context.Context, loc types.LocationSegment, msg *types.WriteExternalStateMessage) (*types.Ack, error)
}

// Client calls both relays and drivers.
type Client interface {
	RelayClient
	DriverClient
}

// retryable reports whether a forward failed before the counterpart
// answered. The record then keeps its last phase so the task can be
// retried.
func retryable(err error) bool {
	return errors.Is(err, types.ErrTransport)
}

// checkAck turns a rejected ack into a protocol error.
func checkAck(ack *types.Ack, err error, what string) error {
	if err != nil {
		return err
	}
	if !ack.IsOK() {
		return types.ProtocolErrorf("%s rejected: %s", what, ack.Message)
	}
	return nil
}
