package hostapi

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-openapi/spec"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/okra-platform/egress/internal/outbound"
)

// HostAPI defines the interface that all host APIs must implement
type HostAPI interface {
	// Name returns the namespace for this API (e.g., "okra.net")
	Name() string

	// Version returns the semantic version of this API
	Version() string

	// Execute handles a method call with JSON parameters
	Execute(ctx context.Context, method string, parameters json.RawMessage) (json.RawMessage, error)
}

// HostAPIFactory creates instances of a host API for specific components
type HostAPIFactory interface {
	// Name returns the namespace for this API (e.g., "okra.net")
	Name() string

	// Version returns the semantic version of this API
	Version() string

	// Create creates a new instance of the host API for one component instance
	Create(ctx context.Context, config HostAPIConfig) (HostAPI, error)

	// Methods returns metadata about available methods for stub generation
	Methods() []MethodMetadata
}

// MethodMetadata provides information about a host API method
type MethodMetadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  *spec.Schema    `json:"parameters"` // JSON schema for parameters
	Returns     *spec.Schema    `json:"returns"`    // JSON schema for return value
	Errors      []ErrorMetadata `json:"errors"`
}

// ErrorMetadata describes possible errors a method can return
type ErrorMetadata struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// HostAPIConfig provides configuration to a host API during initialization
type HostAPIConfig struct {
	ComponentID string // component the guest belongs to
	InstanceID  string // running instance of the component
	Environment string // deployment environment (e.g., "production", "development")

	// Policy engine consulted before every call
	PolicyEngine PolicyEngine

	// Telemetry providers
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger *slog.Logger

	// Outbound is the guarded networking of the calling component
	Outbound *outbound.Component

	// Resource limits
	MaxRequestSize   int // Maximum request size in bytes (0 = use DefaultMaxRequestSize)
	MaxResponseSize  int // Maximum response size in bytes (0 = use DefaultMaxResponseSize)
	MaxFetchBodySize int // Maximum fetched body size in bytes (0 = use DefaultMaxFetchBodySize)
}

// HostAPIRequest represents a request to any host API
type HostAPIRequest struct {
	API        string          `json:"api"`        // e.g., "okra.net"
	Method     string          `json:"method"`     // e.g., "checkUrl"
	Parameters json.RawMessage `json:"parameters"` // Method-specific parameters
	Metadata   RequestMetadata `json:"metadata"`   // Request context, trace info, etc.
}

// HostAPIResponse represents the response from any host API
type HostAPIResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`  // Success response data
	Error   *HostAPIError   `json:"error,omitempty"` // Error details if failed
}

// RequestMetadata carries request context
type RequestMetadata struct {
	TraceID   string            `json:"traceId,omitempty"`
	SpanID    string            `json:"spanId,omitempty"`
	Baggage   map[string]string `json:"baggage,omitempty"`
	Component ComponentInfo     `json:"component"`
}

// ComponentInfo identifies the calling component
type ComponentInfo struct {
	ID         string `json:"id"`
	InstanceID string `json:"instanceId,omitempty"`
}
