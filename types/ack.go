package types

// Ack is the status envelope returned by every protocol call.
type Ack struct {
	Status    AckStatus `cbor:"status"`
	RequestID string    `cbor:"request_id"`
	Message   string    `cbor:"message,omitempty"`
}

// OkAck returns a successful Ack.
func OkAck(requestID, message string) *Ack {
	return &Ack{Status: AckOK, RequestID: requestID, Message: message}
}

// ErrorAck returns a failed Ack carrying err's message.
func ErrorAck(requestID string, err error) *Ack {
	return &Ack{Status: AckError, RequestID: requestID, Message: err.Error()}
}

// ErrorAckMessage returns a failed Ack with a fixed message.
func ErrorAckMessage(requestID, message string) *Ack {
	return &Ack{Status: AckError, RequestID: requestID, Message: message}
}

// IsOK reports whether the Ack signals success.
func (a *Ack) IsOK() bool {
	return a != nil && a.Status == AckOK
}
