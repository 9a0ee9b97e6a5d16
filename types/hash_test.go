package types

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashSize(t *testing.T) {
	require.Equal(t, 32, HashSize)
	require.Equal(t, sha256.Size, HashSize)
}

func TestHashBytes(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		require.Equal(t, HashBytes([]byte("a")), HashBytes([]byte("a")))
	})

	t.Run("nil input", func(t *testing.T) {
		require.Nil(t, HashBytes(nil))
	})

	t.Run("hex string", func(t *testing.T) {
		require.Len(t, HashBytes([]byte("a")).String(), HashSize*2)
	})
}

func TestSubscriptionKey(t *testing.T) {
	matcher := EventMatcher{EventType: EventTypeLedgerState, EventClassID: "TransferEvent"}
	query := Query{
		Address:           "localhost:9080/network1/mychannel:simplestate:Read:a",
		RequestingRelay:   "relay2",
		RequestingNetwork: "network2",
		Policy:            []string{"org1"},
	}

	t.Run("ignores per-request material", func(t *testing.T) {
		other := query
		other.Nonce = "n2"
		other.RequestID = "r2"
		other.RequestorSignature = "sig"
		require.Equal(t, SubscriptionKey(matcher, query), SubscriptionKey(matcher, other))
	})

	t.Run("differs by matcher", func(t *testing.T) {
		other := matcher
		other.EventClassID = "OtherEvent"
		require.NotEqual(t, SubscriptionKey(matcher, query), SubscriptionKey(other, query))
	})

	t.Run("differs by address", func(t *testing.T) {
		other := query
		other.Address = "localhost:9080/network1/mychannel:simplestate:Read:b"
		require.NotEqual(t, SubscriptionKey(matcher, query), SubscriptionKey(matcher, other))
	})
}
