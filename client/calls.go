package client

import (
	"context"

	rpcgrpc "github.com/blockberries/relayberry/rpc/grpc"
	"github.com/blockberries/relayberry/types"
)

// Relay-to-relay calls.

// RequestState forwards a view request to the relay serving the view.
func (c *Client) RequestState(ctx context.Context, loc types.LocationSegment, q *types.Query) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodDataTransferRequestState, q)
}

// SendState delivers a view or error to the requesting relay.
func (c *Client) SendState(ctx context.Context, loc types.LocationSegment, p *types.ViewPayload) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodDataTransferSendState, p)
}

// SubscribeEvent forwards a subscribe, unsubscribe or update operation to
// the relay publishing the events.
func (c *Client) SubscribeEvent(ctx context.Context, loc types.LocationSegment, sub *types.EventSubscription) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodEventSubscribeSubscribeEvent, sub)
}

// SendSubscriptionStatus reports a subscription outcome to the subscribing
// relay.
func (c *Client) SendSubscriptionStatus(ctx context.Context, loc types.LocationSegment, ack *types.Ack) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodEventSubscribeSendSubscriptionStatus, ack)
}

// SendEventState delivers an event to the subscribing relay.
func (c *Client) SendEventState(ctx context.Context, loc types.LocationSegment, p *types.ViewPayload) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodEventPublishSendState, p)
}

// TransferCommence opens an asset transfer handshake with a gateway.
func (c *Client) TransferCommence(ctx context.Context, loc types.LocationSegment, req *types.TransferCommenceRequest) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodSATPTransferCommence, req)
}

// CommenceResponse answers an accepted transfer commence.
func (c *Client) CommenceResponse(ctx context.Context, loc types.LocationSegment, req *types.CommenceResponseRequest) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodSATPCommenceResponse, req)
}

// Relay-to-driver calls.

// RequestDriverState asks a driver to read a view from its ledger.
func (c *Client) RequestDriverState(ctx context.Context, loc types.LocationSegment, q *types.Query) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodDriverRequestDriverState, q)
}

// DriverSubscribeEvent asks a driver to start or stop reporting events.
func (c *Client) DriverSubscribeEvent(ctx context.Context, loc types.LocationSegment, sub *types.EventSubscription) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodDriverSubscribeEvent, sub)
}

// RequestSignedEventSubscriptionQuery asks a driver to countersign the
// query of a subscription.
func (c *Client) RequestSignedEventSubscriptionQuery(ctx context.Context, loc types.LocationSegment, sub *types.EventSubscription) (*types.Query, error) {
	q := new(types.Query)
	if err := c.invoke(ctx, loc, rpcgrpc.MethodDriverRequestSignedEventSubscriptionQuery, sub, q); err != nil {
		return nil, err
	}
	return q, nil
}

// WriteExternalState asks a driver to write a delivered view to its ledger.
func (c *Client) WriteExternalState(ctx context.Context, loc types.LocationSegment, msg *types.WriteExternalStateMessage) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodDriverWriteExternalState, msg)
}

// Driver-to-relay calls.

// SendDriverState hands a driver's answer to the relay that asked for it.
func (c *Client) SendDriverState(ctx context.Context, loc types.LocationSegment, p *types.ViewPayload) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodDataTransferSendDriverState, p)
}

// SendDriverSubscriptionStatus hands a driver's subscription outcome to
// its relay.
func (c *Client) SendDriverSubscriptionStatus(ctx context.Context, loc types.LocationSegment, ack *types.Ack) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodEventSubscribeSendDriverSubscriptionStatus, ack)
}

// SendDriverEventState hands an event a driver observed to its relay.
func (c *Client) SendDriverEventState(ctx context.Context, loc types.LocationSegment, p *types.ViewPayload) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodEventPublishSendDriverState, p)
}

// Application-to-relay calls.

// NetworkRequestState submits a view request to the local relay.
func (c *Client) NetworkRequestState(ctx context.Context, loc types.LocationSegment, q *types.NetworkQuery) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodNetworkRequestState, q)
}

// NetworkGetState polls a view request.
func (c *Client) NetworkGetState(ctx context.Context, loc types.LocationSegment, msg *types.GetStateMessage) (*types.RequestState, error) {
	rs := new(types.RequestState)
	if err := c.invoke(ctx, loc, rpcgrpc.MethodNetworkGetState, msg, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// NetworkSubscribeEvent submits an event subscription to the local relay.
func (c *Client) NetworkSubscribeEvent(ctx context.Context, loc types.LocationSegment, sub *types.NetworkEventSubscription) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodNetworkSubscribeEvent, sub)
}

// NetworkUnsubscribeEvent cancels an event subscription.
func (c *Client) NetworkUnsubscribeEvent(ctx context.Context, loc types.LocationSegment, req *types.NetworkEventUnsubscription) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodNetworkUnsubscribeEvent, req)
}

// NetworkGetEventSubscriptionState polls a subscription.
func (c *Client) NetworkGetEventSubscriptionState(ctx context.Context, loc types.LocationSegment, msg *types.GetStateMessage) (*types.EventSubscriptionState, error) {
	st := new(types.EventSubscriptionState)
	if err := c.invoke(ctx, loc, rpcgrpc.MethodNetworkGetEventSubscriptionState, msg, st); err != nil {
		return nil, err
	}
	return st, nil
}

// NetworkRequestAssetTransfer starts an asset transfer handshake.
func (c *Client) NetworkRequestAssetTransfer(ctx context.Context, loc types.LocationSegment, req *types.NetworkAssetTransfer) (*types.Ack, error) {
	return invokeAck(ctx, c, loc, rpcgrpc.MethodNetworkRequestAssetTransfer, req)
}
