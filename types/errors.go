package types

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error produced by the relay core wraps exactly one
// of these so callers can classify it with errors.Is.
var (
	// ErrStorageUnavailable is returned when a store cannot be opened after
	// all contention retries are exhausted.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned when a key is missing from a store.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("corrupt value")

	// ErrTransport is returned when a remote relay or driver cannot be
	// reached or the call fails below the protocol layer.
	ErrTransport = errors.New("transport failure")

	// ErrValidation is returned for malformed addresses and messages.
	ErrValidation = errors.New("validation failed")

	// ErrProtocol is returned when a message references an unknown id or
	// violates a state-machine precondition.
	ErrProtocol = errors.New("protocol error")

	// ErrDuplicateSubscription is returned when an identical subscription
	// is already active.
	ErrDuplicateSubscription = errors.New("duplicate subscription")
)

// Validation details, always wrapped together with ErrValidation.
var (
	// ErrEmptyData is returned when a required field is empty.
	ErrEmptyData = errors.New("empty data")

	// ErrNilPointer is returned when a required message is nil.
	ErrNilPointer = errors.New("nil pointer")

	// ErrAmbiguousState is returned when a payload carries both a view and
	// an error.
	ErrAmbiguousState = errors.New("both view and error set")

	// ErrInvalidAddress is returned when an address does not have the
	// host:port/network/view shape.
	ErrInvalidAddress = errors.New("invalid address format")
)

// WrapValidationError wraps a validation error with field context.
func WrapValidationError(err error, field string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: invalid %s: %w", ErrValidation, field, err)
}

// WrapTransportError wraps a dial or call failure against a target.
func WrapTransportError(err error, target string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, target, err)
}

// ProtocolErrorf builds a protocol error with a formatted message.
func ProtocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// ErrorKind returns the taxonomy label for err, suitable for metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrDuplicateSubscription):
		return "duplicate_subscription"
	default:
		return "internal"
	}
}
