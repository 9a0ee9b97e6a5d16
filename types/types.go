// Package types provides the message contract shared by relays, drivers and
// local client applications.
package types

// Protocol identifies the ledger family a view was produced by.
type Protocol int32

// Protocol constants.
const (
	ProtocolBitcoin Protocol = iota
	ProtocolEthereum
	ProtocolFabric
	ProtocolCorda
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolBitcoin:
		return "bitcoin"
	case ProtocolEthereum:
		return "ethereum"
	case ProtocolFabric:
		return "fabric"
	case ProtocolCorda:
		return "corda"
	default:
		return "unknown"
	}
}

// Query is the identity and addressing of a view request.
type Query struct {
	Policy             []string `cbor:"policy,omitempty"`
	Address            string   `cbor:"address"`
	RequestingRelay    string   `cbor:"requesting_relay"`
	RequestingNetwork  string   `cbor:"requesting_network"`
	Certificate        string   `cbor:"certificate,omitempty"`
	RequestorSignature string   `cbor:"requestor_signature,omitempty"`
	Nonce              string   `cbor:"nonce,omitempty"`
	RequestID          string   `cbor:"request_id"`
	RequestingOrg      string   `cbor:"requesting_org,omitempty"`
	Confidential       bool     `cbor:"confidential,omitempty"`
}

// Meta describes how a view's data was produced and encoded.
type Meta struct {
	Protocol            Protocol `cbor:"protocol"`
	Timestamp           string   `cbor:"timestamp,omitempty"`
	ProofType           string   `cbor:"proof_type,omitempty"`
	SerializationFormat string   `cbor:"serialization_format,omitempty"`
}

// View is an opaque, ledger-specific state payload.
type View struct {
	Meta Meta   `cbor:"meta"`
	Data []byte `cbor:"data,omitempty"`
}

// ViewPayload delivers either a View or an error message for a request.
// Exactly one of View and Error is meaningful: a nil View means the
// payload carries an error.
type ViewPayload struct {
	RequestID string `cbor:"request_id"`
	View      *View  `cbor:"view,omitempty"`
	Error     string `cbor:"error,omitempty"`
}

// NewViewPayload returns a payload carrying a view.
func NewViewPayload(requestID string, view *View) *ViewPayload {
	return &ViewPayload{RequestID: requestID, View: view}
}

// NewErrorPayload returns a payload carrying an error message.
func NewErrorPayload(requestID, message string) *ViewPayload {
	return &ViewPayload{RequestID: requestID, Error: message}
}

// IsError reports whether the payload carries an error instead of a view.
func (p *ViewPayload) IsError() bool {
	return p.View == nil
}

// Validate checks that the payload identifies a request and carries
// exactly one state.
func (p *ViewPayload) Validate() error {
	if p == nil {
		return WrapValidationError(ErrNilPointer, "view payload")
	}
	if p.RequestID == "" {
		return WrapValidationError(ErrEmptyData, "request_id")
	}
	if p.View != nil && p.Error != "" {
		return WrapValidationError(ErrAmbiguousState, "view payload")
	}
	if p.View == nil && p.Error == "" {
		return WrapValidationError(ErrEmptyData, "view payload")
	}
	return nil
}

// RequestState is the durable record of a view request's progress.
type RequestState struct {
	RequestID string        `cbor:"request_id"`
	Status    RequestStatus `cbor:"status"`
	View      *View         `cbor:"view,omitempty"`
	Error     string        `cbor:"error,omitempty"`
}

// HasState reports whether the record carries a view or error.
func (s *RequestState) HasState() bool {
	return s.View != nil || s.Error != ""
}

// EventType classifies the ledger events a matcher selects.
type EventType int32

// EventType constants.
const (
	EventTypeLedgerState EventType = iota
	EventTypeAssetLock
	EventTypeAssetClaim
	EventTypeAssetReclaim
)

// EventMatcher is a subscription filter.
type EventMatcher struct {
	EventType             EventType `cbor:"event_type"`
	EventClassID          string    `cbor:"event_class_id"`
	TransactionLedgerID   string    `cbor:"transaction_ledger_id,omitempty"`
	TransactionContractID string    `cbor:"transaction_contract_id,omitempty"`
	TransactionFunc       string    `cbor:"transaction_func,omitempty"`
}

// SubscriptionOperation is the action an EventSubscription requests.
type SubscriptionOperation int32

// SubscriptionOperation constants.
const (
	OperationSubscribe SubscriptionOperation = iota
	OperationUnsubscribe
	OperationUpdate
)

// String returns the operation name.
func (o SubscriptionOperation) String() string {
	switch o {
	case OperationSubscribe:
		return "subscribe"
	case OperationUnsubscribe:
		return "unsubscribe"
	case OperationUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// EventSubscription asks a remote network to report matching events.
type EventSubscription struct {
	EventMatcher EventMatcher          `cbor:"event_matcher"`
	Query        Query                 `cbor:"query"`
	Operation    SubscriptionOperation `cbor:"operation"`
}

// ContractTransaction is a local contract call to make for every event.
type ContractTransaction struct {
	DriverID        string   `cbor:"driver_id"`
	LedgerID        string   `cbor:"ledger_id"`
	ContractID      string   `cbor:"contract_id"`
	Func            string   `cbor:"func"`
	Args            [][]byte `cbor:"args,omitempty"`
	ReplaceArgIndex uint64   `cbor:"replace_arg_index"`
	Members         []string `cbor:"members,omitempty"`
}

// AppURL is a callback endpoint to post every event to.
type AppURL struct {
	URL string `cbor:"url"`
}

// EventPublication is one target to invoke for a matching event.
// Exactly one of ContractTransaction and AppURL is set.
type EventPublication struct {
	ContractTransaction *ContractTransaction `cbor:"ctx,omitempty"`
	AppURL              *AppURL              `cbor:"app_url,omitempty"`
}

// EventSubscriptionState is the durable record of a subscription.
type EventSubscriptionState struct {
	RequestID             string                  `cbor:"request_id"`
	PublishingRequestID   string                  `cbor:"publishing_request_id,omitempty"`
	Status                EventSubscriptionStatus `cbor:"status"`
	Message               string                  `cbor:"message,omitempty"`
	EventMatcher          EventMatcher            `cbor:"event_matcher"`
	Query                 Query                   `cbor:"query"`
	EventPublicationSpecs []EventPublication      `cbor:"event_publication_specs,omitempty"`
}

// LocationSegment is the address of a counterpart relay or driver.
type LocationSegment struct {
	Hostname      string `cbor:"hostname" toml:"hostname"`
	Port          string `cbor:"port" toml:"port"`
	TLS           bool   `cbor:"tls" toml:"tls"`
	TLSCACertPath string `cbor:"tls_ca_cert_path,omitempty" toml:"tls_ca_cert_path"`
}

// Target returns the host:port dial target.
func (l LocationSegment) Target() string {
	return l.Hostname + ":" + l.Port
}

// WriteExternalStateMessage asks a driver to write a delivered view into
// its ledger through a contract call.
type WriteExternalStateMessage struct {
	ViewPayload *ViewPayload         `cbor:"view_payload"`
	Ctx         *ContractTransaction `cbor:"ctx,omitempty"`
}

// GetStateMessage identifies a record to poll.
type GetStateMessage struct {
	RequestID string `cbor:"request_id"`
}

// NetworkQuery is what a local client submits to request a remote view.
type NetworkQuery struct {
	Policy             []string `cbor:"policy,omitempty"`
	Address            string   `cbor:"address"`
	RequestingRelay    string   `cbor:"requesting_relay"`
	RequestingNetwork  string   `cbor:"requesting_network"`
	Certificate        string   `cbor:"certificate,omitempty"`
	RequestorSignature string   `cbor:"requestor_signature,omitempty"`
	Nonce              string   `cbor:"nonce,omitempty"`
	RequestingOrg      string   `cbor:"requesting_org,omitempty"`
	Confidential       bool     `cbor:"confidential,omitempty"`
}

// ToQuery converts the client request into a relay Query.
func (q *NetworkQuery) ToQuery(requestID string) Query {
	return Query{
		Policy:             q.Policy,
		Address:            q.Address,
		RequestingRelay:    q.RequestingRelay,
		RequestingNetwork:  q.RequestingNetwork,
		Certificate:        q.Certificate,
		RequestorSignature: q.RequestorSignature,
		Nonce:              q.Nonce,
		RequestID:          requestID,
		RequestingOrg:      q.RequestingOrg,
		Confidential:       q.Confidential,
	}
}

// NetworkEventSubscription is what a local client submits to subscribe to
// remote events.
type NetworkEventSubscription struct {
	EventMatcher         EventMatcher       `cbor:"event_matcher"`
	Query                NetworkQuery       `cbor:"query"`
	EventPublicationSpec []EventPublication `cbor:"event_publication_spec,omitempty"`
}

// NetworkEventUnsubscription cancels a subscription created earlier.
type NetworkEventUnsubscription struct {
	Request   NetworkEventSubscription `cbor:"request"`
	RequestID string                   `cbor:"request_id"`
}

// NetworkAssetTransfer is what a local client submits to start an asset
// transfer handshake with a remote gateway.
type NetworkAssetTransfer struct {
	AssetType          string   `cbor:"asset_type"`
	AssetID            string   `cbor:"asset_id"`
	Sender             string   `cbor:"sender"`
	Recipient          string   `cbor:"recipient"`
	Policy             []string `cbor:"policy,omitempty"`
	Address            string   `cbor:"address"`
	RequestingRelay    string   `cbor:"requesting_relay"`
	RequestingNetwork  string   `cbor:"requesting_network"`
	RequestingOrg      string   `cbor:"requesting_org,omitempty"`
	Certificate        string   `cbor:"certificate,omitempty"`
	RequestorSignature string   `cbor:"requestor_signature,omitempty"`
	Nonce              string   `cbor:"nonce,omitempty"`
}
