package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// HashSize is the size of a SHA-256 hash in bytes.
	HashSize = sha256.Size // 32 bytes
)

// Hash is a SHA-256 digest.
type Hash []byte

// String returns the hash as a hexadecimal string.
func (h Hash) String() string {
	return hex.EncodeToString(h)
}

// HashBytes computes the SHA-256 hash of arbitrary bytes.
func HashBytes(data []byte) Hash {
	if data == nil {
		return nil
	}
	h := sha256.Sum256(data)
	return h[:]
}

// QueryIdentity returns the fields that identify who asks for what,
// excluding per-request material such as nonce, signature and request id.
func QueryIdentity(q Query) string {
	return strings.Join([]string{
		q.Address,
		q.RequestingRelay,
		q.RequestingNetwork,
		q.RequestingOrg,
		strings.Join(q.Policy, ","),
	}, "\x1f")
}

// SubscriptionKey is the deduplication key of a subscription: the hash of
// its event matcher together with its query identity.
func SubscriptionKey(matcher EventMatcher, q Query) string {
	h := sha256.New()
	for _, part := range []string{
		EventTypeName(matcher.EventType),
		matcher.EventClassID,
		matcher.TransactionLedgerID,
		matcher.TransactionContractID,
		matcher.TransactionFunc,
		QueryIdentity(q),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return Hash(h.Sum(nil)).String()
}

// EventTypeName returns a stable name for an event type.
func EventTypeName(t EventType) string {
	switch t {
	case EventTypeLedgerState:
		return "ledger_state"
	case EventTypeAssetLock:
		return "asset_lock"
	case EventTypeAssetClaim:
		return "asset_claim"
	case EventTypeAssetReclaim:
		return "asset_reclaim"
	default:
		return "unknown"
	}
}
