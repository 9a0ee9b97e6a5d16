package types

// AckStatus is the outcome carried by an Ack.
type AckStatus int32

// AckStatus constants.
const (
	AckOK AckStatus = iota
	AckError
)

// String returns the status name.
func (s AckStatus) String() string {
	if s == AckOK {
		return "ok"
	}
	return "error"
}

// RequestStatus is the lifecycle phase of a view request.
type RequestStatus int32

// RequestStatus constants.
const (
	StatusPendingAck RequestStatus = iota
	StatusPending
	StatusError
	StatusCompleted
	StatusEventReceived
	StatusEventWritten
	StatusEventWriteError
	StatusDeleted
)

// String returns the status name.
func (s RequestStatus) String() string {
	switch s {
	case StatusPendingAck:
		return "PENDING_ACK"
	case StatusPending:
		return "PENDING"
	case StatusError:
		return "ERROR"
	case StatusCompleted:
		return "COMPLETED"
	case StatusEventReceived:
		return "EVENT_RECEIVED"
	case StatusEventWritten:
		return "EVENT_WRITTEN"
	case StatusEventWriteError:
		return "EVENT_WRITE_ERROR"
	case StatusDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// CarriesState reports whether records in this status hold a view or error.
func (s RequestStatus) CarriesState() bool {
	switch s {
	case StatusCompleted, StatusError, StatusEventReceived, StatusEventWritten, StatusEventWriteError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further protocol message advances the
// record except a fetch.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusDeleted
}

var requestTransitions = map[RequestStatus][]RequestStatus{
	StatusPendingAck:      {StatusPending, StatusError},
	StatusPending:         {StatusCompleted, StatusEventReceived, StatusError},
	StatusEventReceived:   {StatusEventReceived, StatusEventWritten, StatusEventWriteError, StatusCompleted, StatusError},
	StatusEventWritten:    {StatusEventReceived, StatusCompleted, StatusError, StatusDeleted},
	StatusEventWriteError: {StatusEventReceived, StatusCompleted, StatusError, StatusDeleted},
	StatusCompleted:       {StatusDeleted},
	StatusError:           {StatusDeleted},
}

// CanTransition reports whether a request record may move from one status
// to another.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventSubscriptionStatus is the lifecycle phase of a subscription.
type EventSubscriptionStatus int32

// EventSubscriptionStatus constants.
const (
	SubscribePendingAck EventSubscriptionStatus = iota
	SubscribePending
	Subscribed
	UnsubscribePendingAck
	UnsubscribePending
	Unsubscribed
	SubscriptionError
	DuplicateQuerySubscribed
)

// String returns the status name.
func (s EventSubscriptionStatus) String() string {
	switch s {
	case SubscribePendingAck:
		return "SUBSCRIBE_PENDING_ACK"
	case SubscribePending:
		return "SUBSCRIBE_PENDING"
	case Subscribed:
		return "SUBSCRIBED"
	case UnsubscribePendingAck:
		return "UNSUBSCRIBE_PENDING_ACK"
	case UnsubscribePending:
		return "UNSUBSCRIBE_PENDING"
	case Unsubscribed:
		return "UNSUBSCRIBED"
	case SubscriptionError:
		return "ERROR"
	case DuplicateQuerySubscribed:
		return "DUPLICATE_QUERY_SUBSCRIBED"
	default:
		return "UNKNOWN"
	}
}

// IsActive reports whether a record in this status blocks an identical
// subscription.
func (s EventSubscriptionStatus) IsActive() bool {
	switch s {
	case SubscriptionError, Unsubscribed, DuplicateQuerySubscribed:
		return false
	default:
		return true
	}
}

// SATPStatus is the phase of one side of an asset-transfer handshake.
type SATPStatus int32

// SATPStatus constants. Outbound phases are recorded in the remote-state
// table, inbound phases in the local-state table.
const (
	SATPTransferCommenceSent SATPStatus = iota
	SATPTransferCommenceAcked
	SATPTransferCommenceRejected
	SATPTransferCommenceFailed
	SATPTransferCommenceReceived
	SATPTransferCommenceAccepted
	SATPTransferCommenceInvalid
	SATPCommenceResponseSent
	SATPCommenceResponseFailed
	SATPCommenceResponseReceived
)

// String returns the status name.
func (s SATPStatus) String() string {
	switch s {
	case SATPTransferCommenceSent:
		return "TRANSFER_COMMENCE_SENT"
	case SATPTransferCommenceAcked:
		return "TRANSFER_COMMENCE_ACKED"
	case SATPTransferCommenceRejected:
		return "TRANSFER_COMMENCE_REJECTED"
	case SATPTransferCommenceFailed:
		return "TRANSFER_COMMENCE_FAILED"
	case SATPTransferCommenceReceived:
		return "TRANSFER_COMMENCE_RECEIVED"
	case SATPTransferCommenceAccepted:
		return "TRANSFER_COMMENCE_ACCEPTED"
	case SATPTransferCommenceInvalid:
		return "TRANSFER_COMMENCE_INVALID"
	case SATPCommenceResponseSent:
		return "COMMENCE_RESPONSE_SENT"
	case SATPCommenceResponseFailed:
		return "COMMENCE_RESPONSE_FAILED"
	case SATPCommenceResponseReceived:
		return "COMMENCE_RESPONSE_RECEIVED"
	default:
		return "UNKNOWN"
	}
}

var subscriptionTransitions = map[EventSubscriptionStatus][]EventSubscriptionStatus{
	SubscribePendingAck:   {SubscribePending, Subscribed, SubscriptionError},
	SubscribePending:      {Subscribed, SubscriptionError},
	Subscribed:            {UnsubscribePendingAck, SubscriptionError},
	UnsubscribePendingAck: {UnsubscribePending, Unsubscribed, SubscriptionError},
	UnsubscribePending:    {Unsubscribed, SubscriptionError},
}

// CanSubscriptionTransition reports whether a subscription record may move
// from one status to another.
func CanSubscriptionTransition(from, to EventSubscriptionStatus) bool {
	for _, next := range subscriptionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
