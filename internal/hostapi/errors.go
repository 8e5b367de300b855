package hostapi

// Resource limit constants
const (
	// DefaultMaxRequestSize is the default maximum size for incoming requests (10MB)
	DefaultMaxRequestSize = 10 * 1024 * 1024

	// DefaultMaxResponseSize is the default maximum size for outgoing responses (10MB)
	DefaultMaxResponseSize = 10 * 1024 * 1024

	// DefaultMaxFetchBodySize is the default maximum size of a fetched body (4MB)
	DefaultMaxFetchBodySize = 4 * 1024 * 1024
)

// Error codes reported to guests
const (
	// ErrorCodeResponseTooLarge indicates the response exceeded size limits
	ErrorCodeResponseTooLarge = "RESPONSE_TOO_LARGE"

	// ErrorCodeHostAPISetClosed indicates operations on a closed HostAPISet
	ErrorCodeHostAPISetClosed = "HOST_API_SET_CLOSED"

	// ErrorCodeAPINotFound indicates the requested API doesn't exist
	ErrorCodeAPINotFound = "API_NOT_FOUND"

	// ErrorCodeMethodNotFound indicates the API has no such method
	ErrorCodeMethodNotFound = "METHOD_NOT_FOUND"

	// ErrorCodeInvalidParameters indicates the parameters could not be decoded
	ErrorCodeInvalidParameters = "INVALID_PARAMETERS"

	// ErrorCodePolicyError indicates policy evaluation failed
	ErrorCodePolicyError = "POLICY_ERROR"

	// ErrorCodePolicyDenied indicates the request was denied by policy
	ErrorCodePolicyDenied = "POLICY_DENIED"

	// ErrorCodeURLDenied indicates the destination is not in the allow-list
	ErrorCodeURLDenied = "URL_DENIED"

	// ErrorCodeDestinationProhibited indicates every address of the destination is blocked
	ErrorCodeDestinationProhibited = "DESTINATION_PROHIBITED"

	// ErrorCodeRequestFailed indicates an outbound request failed in transit
	ErrorCodeRequestFailed = "REQUEST_FAILED"

	// ErrorCodeInternalError indicates an unexpected error occurred
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// WASM memory error indicators
const (
	// NullPointer indicates a null pointer error in WASM memory operations
	NullPointer = uint32(0)

	// ZeroLength indicates zero length in WASM memory operations
	ZeroLength = uint32(0)
)

// HostAPIError provides structured error information
type HostAPIError struct {
	Code    string `json:"code"`              // e.g., "URL_DENIED"
	Message string `json:"message"`           // Human-readable error message
	Details string `json:"details,omitempty"` // Additional error context
}

// Error implements the error interface
func (e *HostAPIError) Error() string {
	if e.Details != "" {
		return e.Code + ": " + e.Message + " - " + e.Details
	}
	return e.Code + ": " + e.Message
}
