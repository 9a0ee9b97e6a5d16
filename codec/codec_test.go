package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/relayberry/types"
)

func TestMarshalDeterministic(t *testing.T) {
	state := types.RequestState{
		RequestID: "r1",
		Status:    types.StatusCompleted,
		View:      &types.View{Meta: types.Meta{Protocol: types.ProtocolFabric}, Data: []byte("data")},
	}

	first, err := Marshal(state)
	require.NoError(t, err)
	second, err := Marshal(state)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUnmarshal_Garbage(t *testing.T) {
	var state types.RequestState
	err := Unmarshal([]byte{0xff, 0x00, 0x13}, &state)
	require.Error(t, err)
}

func TestUnmarshal_TrailingBytes(t *testing.T) {
	data, err := Marshal(types.Ack{Status: types.AckOK, RequestID: "r1"})
	require.NoError(t, err)

	var ack types.Ack
	require.Error(t, Unmarshal(append(data, 0x01), &ack))
}
