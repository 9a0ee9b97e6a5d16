package grpc

import (
	"fmt"
	"reflect"

	"google.golang.org/grpc/encoding"

	"github.com/blockberries/relayberry/codec"
)

// CodecName is the content-subtype under which the CBOR codec is
// registered. Calls select it with grpc.CallContentSubtype(CodecName).
const CodecName = "cbor"

// CBORCodec implements the gRPC encoding.Codec interface with the relay's
// deterministic CBOR encoding instead of Protocol Buffers.
type CBORCodec struct{}

// Marshal serializes a message.
func (CBORCodec) Marshal(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return codec.Marshal(v)
}

// Unmarshal deserializes a message into v, which must be a non-nil pointer.
func (CBORCodec) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("unmarshal target must be a non-nil pointer, got %T", v)
	}
	if len(data) == 0 {
		return nil
	}
	return codec.Unmarshal(data, v)
}

// Name returns the name of the codec.
func (CBORCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(CBORCodec{})
}
