package outbound

import "errors"

var (
	// ErrRequestDenied is returned when the allow-list rejects a request
	ErrRequestDenied = errors.New("destination not allowed")

	// ErrDestinationIPProhibited is returned when every resolved address of a
	// destination is blocked
	ErrDestinationIPProhibited = errors.New("destination IP prohibited")

	// ErrSelfOriginUnset is returned for relative requests when no self
	// origin is configured
	ErrSelfOriginUnset = errors.New("self request origin not configured")

	// ErrNoAddresses is returned when a host resolves to nothing
	ErrNoAddresses = errors.New("no addresses found")
)
