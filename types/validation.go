package types

import (
	"fmt"
	"strings"
)

// Address is a parsed view address of the form
// "<host>:<port>/<network_id>/<view>".
type Address struct {
	Location    LocationSegment
	NetworkID   string
	ViewSegment string
}

// ParseAddress splits a view address into its relay location, network id
// and view segment. The location is always plaintext here; TLS settings
// come from the relay directory.
func ParseAddress(address string) (*Address, error) {
	parts := strings.Split(address, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidAddress, address)
	}

	location := strings.Split(parts[0], ":")
	if len(location) != 2 || location[0] == "" || location[1] == "" {
		return nil, fmt.Errorf("%w: %w: location %q", ErrValidation, ErrInvalidAddress, parts[0])
	}
	if parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidAddress, address)
	}

	return &Address{
		Location: LocationSegment{
			Hostname: location[0],
			Port:     location[1],
		},
		NetworkID:   parts[1],
		ViewSegment: parts[2],
	}, nil
}

// ValidateQuery checks the fields a relay needs to route a query.
func ValidateQuery(q *Query) error {
	if q == nil {
		return WrapValidationError(ErrNilPointer, "query")
	}
	if q.Address == "" {
		return WrapValidationError(ErrEmptyData, "address")
	}
	if q.RequestingRelay == "" {
		return WrapValidationError(ErrEmptyData, "requesting_relay")
	}
	return nil
}

// ValidateSessionID checks that a handshake message names its session.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return WrapValidationError(ErrEmptyData, "session_id")
	}
	return nil
}
