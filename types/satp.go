package types

import "time"

// Handshake message types.
const (
	MessageTypeTransferCommence     = "urn:ietf:satp:msgtype:transfer-commence-msg"
	MessageTypeCommenceResponse     = "urn:ietf:satp:msgtype:transfer-commence-ack-msg"
	MessageTypeLockAssertion        = "urn:ietf:satp:msgtype:lock-assert-msg"
	MessageTypeLockAssertionReceipt = "urn:ietf:satp:msgtype:assertion-receipt-msg"
)

// TransferCommenceRequest opens an asset-transfer handshake.
type TransferCommenceRequest struct {
	MessageType          string `cbor:"message_type"`
	SessionID            string `cbor:"session_id"`
	TransferContextID    string `cbor:"transfer_context_id"`
	ClientIdentityPubkey string `cbor:"client_identity_pubkey"`
	ServerIdentityPubkey string `cbor:"server_identity_pubkey"`
	HashAssetProfile     string `cbor:"hash_asset_profile"`
	AssetUnit            string `cbor:"asset_unit,omitempty"`
	HashPrevMessage      string `cbor:"hash_prev_message,omitempty"`
	ClientTransferNumber string `cbor:"client_transfer_number,omitempty"`
	ClientSignature      string `cbor:"client_signature"`
}

// CommenceResponseRequest answers an accepted TransferCommenceRequest.
type CommenceResponseRequest struct {
	MessageType          string `cbor:"message_type"`
	SessionID            string `cbor:"session_id"`
	TransferContextID    string `cbor:"transfer_context_id"`
	ClientIdentityPubkey string `cbor:"client_identity_pubkey"`
	ServerIdentityPubkey string `cbor:"server_identity_pubkey"`
	HashCommenceRequest  string `cbor:"hash_commence_request"`
	ServerTransferNumber string `cbor:"server_transfer_number,omitempty"`
	ServerSignature      string `cbor:"server_signature"`
}

// LockAssertionRequest asserts the asset is locked on the origin ledger.
type LockAssertionRequest struct {
	MessageType              string `cbor:"message_type"`
	SessionID                string `cbor:"session_id"`
	TransferContextID        string `cbor:"transfer_context_id"`
	ClientIdentityPubkey     string `cbor:"client_identity_pubkey"`
	ServerIdentityPubkey     string `cbor:"server_identity_pubkey"`
	LockAssertionClaim       string `cbor:"lock_assertion_claim"`
	LockAssertionClaimFormat string `cbor:"lock_assertion_claim_format"`
	LockAssertionExpiration  string `cbor:"lock_assertion_expiration"`
	HashPrevMessage          string `cbor:"hash_prev_message"`
	ClientTransferNumber     string `cbor:"client_transfer_number,omitempty"`
	ClientSignature          string `cbor:"client_signature"`
}

// LockAssertionReceiptRequest acknowledges a lock assertion.
type LockAssertionReceiptRequest struct {
	MessageType          string `cbor:"message_type"`
	SessionID            string `cbor:"session_id"`
	TransferContextID    string `cbor:"transfer_context_id"`
	ClientIdentityPubkey string `cbor:"client_identity_pubkey"`
	ServerIdentityPubkey string `cbor:"server_identity_pubkey"`
	HashPrevMessage      string `cbor:"hash_prev_message"`
	ServerTransferNumber string `cbor:"server_transfer_number,omitempty"`
	ServerSignature      string `cbor:"server_signature"`
}

// SATPState records the handshake phase of one session on one side.
type SATPState struct {
	SessionID string     `cbor:"session_id"`
	Status    SATPStatus `cbor:"status"`
	Message   string     `cbor:"message,omitempty"`
	UpdatedAt time.Time  `cbor:"updated_at"`
}
