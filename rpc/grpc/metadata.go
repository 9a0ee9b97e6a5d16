package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	"github.com/blockberries/relayberry/tracing/otel"
)

// RelayNameKey is the metadata key carrying the calling relay's name on
// every relay-to-relay call.
const RelayNameKey = "x-relay-name"

// WithRelayName attaches the local relay name to an outgoing call.
func WithRelayName(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, RelayNameKey, name)
}

// CallerRelay returns the relay name the caller attached, or "".
func CallerRelay(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(RelayNameKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

// metadataCarrier adapts gRPC metadata to the OpenTelemetry
// TextMapCarrier interface.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectTrace copies the span context of ctx into its outgoing metadata.
func InjectTrace(ctx context.Context, tracer *otel.Tracer) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	tracer.Inject(ctx, metadataCarrier(md))
	return metadata.NewOutgoingContext(ctx, md)
}

func extractTrace(ctx context.Context, tracer *otel.Tracer) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return tracer.Extract(ctx, metadataCarrier(md))
}
