package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/blockberries/relayberry/types"
)

// Full method names.
const (
	MethodDataTransferRequestState    = "/relay.DataTransfer/RequestState"
	MethodDataTransferSendState       = "/relay.DataTransfer/SendState"
	MethodDataTransferSendDriverState = "/relay.DataTransfer/SendDriverState"

	MethodEventSubscribeSubscribeEvent               = "/relay.EventSubscribe/SubscribeEvent"
	MethodEventSubscribeSendSubscriptionStatus       = "/relay.EventSubscribe/SendSubscriptionStatus"
	MethodEventSubscribeSendDriverSubscriptionStatus = "/relay.EventSubscribe/SendDriverSubscriptionStatus"

	MethodEventPublishSendDriverState = "/relay.EventPublish/SendDriverState"
	MethodEventPublishSendState       = "/relay.EventPublish/SendState"

	MethodDriverRequestDriverState                  = "/driver.DriverCommunication/RequestDriverState"
	MethodDriverSubscribeEvent                      = "/driver.DriverCommunication/SubscribeEvent"
	MethodDriverRequestSignedEventSubscriptionQuery = "/driver.DriverCommunication/RequestSignedEventSubscriptionQuery"
	MethodDriverWriteExternalState                  = "/driver.DriverCommunication/WriteExternalState"

	MethodNetworkRequestState              = "/networks.Network/RequestState"
	MethodNetworkGetState                  = "/networks.Network/GetState"
	MethodNetworkSubscribeEvent            = "/networks.Network/SubscribeEvent"
	MethodNetworkUnsubscribeEvent          = "/networks.Network/UnsubscribeEvent"
	MethodNetworkGetEventSubscriptionState = "/networks.Network/GetEventSubscriptionState"
	MethodNetworkRequestAssetTransfer      = "/networks.Network/RequestAssetTransfer"

	MethodSATPTransferCommence     = "/satp.SATP/TransferCommence"
	MethodSATPCommenceResponse     = "/satp.SATP/CommenceResponse"
	MethodSATPLockAssertion        = "/satp.SATP/LockAssertion"
	MethodSATPLockAssertionReceipt = "/satp.SATP/LockAssertionReceipt"
)

// DataTransferServer is the relay-to-relay view request service.
type DataTransferServer interface {
	RequestState(context.Context, *types.Query) (*types.Ack, error)
	SendState(context.Context, *types.ViewPayload) (*types.Ack, error)
	SendDriverState(context.Context, *types.ViewPayload) (*types.Ack, error)
}

// EventSubscribeServer is the relay-to-relay subscription service.
type EventSubscribeServer interface {
	SubscribeEvent(context.Context, *types.EventSubscription) (*types.Ack, error)
	SendSubscriptionStatus(context.Context, *types.Ack) (*types.Ack, error)
	SendDriverSubscriptionStatus(context.Context, *types.Ack) (*types.Ack, error)
}

// EventPublishServer is the event delivery service.
type EventPublishServer interface {
	SendDriverState(context.Context, *types.ViewPayload) (*types.Ack, error)
	SendState(context.Context, *types.ViewPayload) (*types.Ack, error)
}

// DriverCommunicationServer is the service a ledger driver exposes to its
// relay.
type DriverCommunicationServer interface {
	RequestDriverState(context.Context, *types.Query) (*types.Ack, error)
	SubscribeEvent(context.Context, *types.EventSubscription) (*types.Ack, error)
	RequestSignedEventSubscriptionQuery(context.Context, *types.EventSubscription) (*types.Query, error)
	WriteExternalState(context.Context, *types.WriteExternalStateMessage) (*types.Ack, error)
}

// NetworkServer is the service local client applications call.
type NetworkServer interface {
	RequestState(context.Context, *types.NetworkQuery) (*types.Ack, error)
	GetState(context.Context, *types.GetStateMessage) (*types.RequestState, error)
	SubscribeEvent(context.Context, *types.NetworkEventSubscription) (*types.Ack, error)
	UnsubscribeEvent(context.Context, *types.NetworkEventUnsubscription) (*types.Ack, error)
	GetEventSubscriptionState(context.Context, *types.GetStateMessage) (*types.EventSubscriptionState, error)
	RequestAssetTransfer(context.Context, *types.NetworkAssetTransfer) (*types.Ack, error)
}

// SATPServer is the gateway-to-gateway asset transfer handshake service.
type SATPServer interface {
	TransferCommence(context.Context, *types.TransferCommenceRequest) (*types.Ack, error)
	CommenceResponse(context.Context, *types.CommenceResponseRequest) (*types.Ack, error)
	LockAssertion(context.Context, *types.LockAssertionRequest) (*types.Ack, error)
	LockAssertionReceipt(context.Context, *types.LockAssertionReceiptRequest) (*types.Ack, error)
}

// unary builds a method handler that decodes Req, runs the interceptor
// chain and calls call on the registered implementation of S.
func unary[S, Req, Resp any](fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// DataTransferServiceDesc describes relay.DataTransfer.
var DataTransferServiceDesc = grpc.ServiceDesc{
	ServiceName: "relay.DataTransfer",
	HandlerType: (*DataTransferServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestState", Handler: unary(MethodDataTransferRequestState, DataTransferServer.RequestState)},
		{MethodName: "SendState", Handler: unary(MethodDataTransferSendState, DataTransferServer.SendState)},
		{MethodName: "SendDriverState", Handler: unary(MethodDataTransferSendDriverState, DataTransferServer.SendDriverState)},
	},
	Metadata: "relay/datatransfer.cbor",
}

// EventSubscribeServiceDesc describes relay.EventSubscribe.
var EventSubscribeServiceDesc = grpc.ServiceDesc{
	ServiceName: "relay.EventSubscribe",
	HandlerType: (*EventSubscribeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubscribeEvent", Handler: unary(MethodEventSubscribeSubscribeEvent, EventSubscribeServer.SubscribeEvent)},
		{MethodName: "SendSubscriptionStatus", Handler: unary(MethodEventSubscribeSendSubscriptionStatus, EventSubscribeServer.SendSubscriptionStatus)},
		{MethodName: "SendDriverSubscriptionStatus", Handler: unary(MethodEventSubscribeSendDriverSubscriptionStatus, EventSubscribeServer.SendDriverSubscriptionStatus)},
	},
	Metadata: "relay/events.cbor",
}

// EventPublishServiceDesc describes relay.EventPublish.
var EventPublishServiceDesc = grpc.ServiceDesc{
	ServiceName: "relay.EventPublish",
	HandlerType: (*EventPublishServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendDriverState", Handler: unary(MethodEventPublishSendDriverState, EventPublishServer.SendDriverState)},
		{MethodName: "SendState", Handler: unary(MethodEventPublishSendState, EventPublishServer.SendState)},
	},
	Metadata: "relay/events.cbor",
}

// DriverCommunicationServiceDesc describes driver.DriverCommunication.
var DriverCommunicationServiceDesc = grpc.ServiceDesc{
	ServiceName: "driver.DriverCommunication",
	HandlerType: (*DriverCommunicationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestDriverState", Handler: unary(MethodDriverRequestDriverState, DriverCommunicationServer.RequestDriverState)},
		{MethodName: "SubscribeEvent", Handler: unary(MethodDriverSubscribeEvent, DriverCommunicationServer.SubscribeEvent)},
		{MethodName: "RequestSignedEventSubscriptionQuery", Handler: unary(MethodDriverRequestSignedEventSubscriptionQuery, DriverCommunicationServer.RequestSignedEventSubscriptionQuery)},
		{MethodName: "WriteExternalState", Handler: unary(MethodDriverWriteExternalState, DriverCommunicationServer.WriteExternalState)},
	},
	Metadata: "driver/driver.cbor",
}

// NetworkServiceDesc describes networks.Network.
var NetworkServiceDesc = grpc.ServiceDesc{
	ServiceName: "networks.Network",
	HandlerType: (*NetworkServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestState", Handler: unary(MethodNetworkRequestState, NetworkServer.RequestState)},
		{MethodName: "GetState", Handler: unary(MethodNetworkGetState, NetworkServer.GetState)},
		{MethodName: "SubscribeEvent", Handler: unary(MethodNetworkSubscribeEvent, NetworkServer.SubscribeEvent)},
		{MethodName: "UnsubscribeEvent", Handler: unary(MethodNetworkUnsubscribeEvent, NetworkServer.UnsubscribeEvent)},
		{MethodName: "GetEventSubscriptionState", Handler: unary(MethodNetworkGetEventSubscriptionState, NetworkServer.GetEventSubscriptionState)},
		{MethodName: "RequestAssetTransfer", Handler: unary(MethodNetworkRequestAssetTransfer, NetworkServer.RequestAssetTransfer)},
	},
	Metadata: "networks/networks.cbor",
}

// SATPServiceDesc describes satp.SATP.
var SATPServiceDesc = grpc.ServiceDesc{
	ServiceName: "satp.SATP",
	HandlerType: (*SATPServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TransferCommence", Handler: unary(MethodSATPTransferCommence, SATPServer.TransferCommence)},
		{MethodName: "CommenceResponse", Handler: unary(MethodSATPCommenceResponse, SATPServer.CommenceResponse)},
		{MethodName: "LockAssertion", Handler: unary(MethodSATPLockAssertion, SATPServer.LockAssertion)},
		{MethodName: "LockAssertionReceipt", Handler: unary(MethodSATPLockAssertionReceipt, SATPServer.LockAssertionReceipt)},
	},
	Metadata: "satp/satp.cbor",
}

// RegisterDataTransferServer registers srv on s.
func RegisterDataTransferServer(s grpc.ServiceRegistrar, srv DataTransferServer) {
	s.RegisterService(&DataTransferServiceDesc, srv)
}

// RegisterEventSubscribeServer registers srv on s.
func RegisterEventSubscribeServer(s grpc.ServiceRegistrar, srv EventSubscribeServer) {
	s.RegisterService(&EventSubscribeServiceDesc, srv)
}

// RegisterEventPublishServer registers srv on s.
func RegisterEventPublishServer(s grpc.ServiceRegistrar, srv EventPublishServer) {
	s.RegisterService(&EventPublishServiceDesc, srv)
}

// RegisterDriverCommunicationServer registers srv on s.
func RegisterDriverCommunicationServer(s grpc.ServiceRegistrar, srv DriverCommunicationServer) {
	s.RegisterService(&DriverCommunicationServiceDesc, srv)
}

// RegisterNetworkServer registers srv on s.
func RegisterNetworkServer(s grpc.ServiceRegistrar, srv NetworkServer) {
	s.RegisterService(&NetworkServiceDesc, srv)
}

// RegisterSATPServer registers srv on s.
func RegisterSATPServer(s grpc.ServiceRegistrar, srv SATPServer) {
	s.RegisterService(&SATPServiceDesc, srv)
}
