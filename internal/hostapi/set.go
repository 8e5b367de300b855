package hostapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
)

// HostAPISet contains all host API instances for a specific component instance
type HostAPISet interface {
	// Get retrieves a specific host API instance
	Get(name string) (HostAPI, bool)

	// Execute routes a request to the appropriate host API
	Execute(ctx context.Context, apiName, method string, parameters json.RawMessage) (json.RawMessage, error)

	// Config returns the configuration for this host API set
	Config() HostAPIConfig

	// Close cleans up all host API resources
	// Should be called after the WASM instance has terminated
	Close() error
}

// defaultHostAPISet is the concrete implementation of HostAPISet
// Each WASM instance gets its own HostAPISet, but we still need synchronization
// because host-side Go code may have concurrent access patterns
type defaultHostAPISet struct {
	apis     map[string]HostAPI
	config   HostAPIConfig
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	closed   bool
	mu       sync.RWMutex
}

// Compile-time interface compliance checks
var (
	_ HostAPISet      = (*defaultHostAPISet)(nil)
	_ HostAPIRegistry = (*defaultHostAPIRegistry)(nil)
)

func (c HostAPIConfig) withDefaults() HostAPIConfig {
	if c.Tracer == nil {
		c.Tracer = tracenoop.NewTracerProvider().Tracer("hostapi")
	}
	if c.Meter == nil {
		c.Meter = metricnoop.NewMeterProvider().Meter("hostapi")
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.PolicyEngine == nil {
		c.PolicyEngine = AllowAllPolicy{}
	}
	return c
}

func newHostAPISet(apis map[string]HostAPI, config HostAPIConfig) *defaultHostAPISet {
	s := &defaultHostAPISet{apis: apis, config: config}
	s.calls, _ = config.Meter.Int64Counter("host_api_calls")
	s.duration, _ = config.Meter.Float64Histogram("host_api_duration_ms")
	return s
}

// Get retrieves a specific host API instance
func (s *defaultHostAPISet) Get(name string) (HostAPI, bool) {
	api, ok := s.apis[name]
	return api, ok
}

// Execute routes a request to the appropriate host API with cross-cutting concerns
func (s *defaultHostAPISet) Execute(ctx context.Context, apiName, method string, parameters json.RawMessage) (json.RawMessage, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, &HostAPIError{
			Code:    ErrorCodeHostAPISetClosed,
			Message: "HostAPISet has been closed - this indicates improper lifecycle management",
			Details: "Execute called after Close()",
		}
	}
	s.mu.RUnlock()

	api, ok := s.apis[apiName]
	if !ok {
		return nil, &HostAPIError{
			Code:    ErrorCodeAPINotFound,
			Message: fmt.Sprintf("host API %s not found", apiName),
		}
	}

	ctx, span := s.config.Tracer.Start(ctx, fmt.Sprintf("host.%s.%s", apiName, method))
	defer span.End()

	// Policy check
	component := ComponentInfo{ID: s.config.ComponentID, InstanceID: s.config.InstanceID}
	decision, err := s.config.PolicyEngine.Evaluate(ctx, PolicyCheck{
		Component: component,
		Request: HostAPIRequest{
			API:        apiName,
			Method:     method,
			Parameters: parameters,
			Metadata:   RequestMetadata{Component: component},
		},
		Context: map[string]interface{}{"environment": s.config.Environment},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &HostAPIError{
			Code:    ErrorCodePolicyError,
			Message: fmt.Sprintf("policy evaluation failed: %v", err),
		}
	}
	if !decision.Allowed {
		span.SetAttributes(attribute.String("policy.reason", decision.Reason))
		return nil, &HostAPIError{
			Code:    ErrorCodePolicyDenied,
			Message: decision.Reason,
		}
	}

	start := time.Now()
	result, executeErr := api.Execute(ctx, method, parameters)
	duration := time.Since(start)

	attrs := []attribute.KeyValue{
		attribute.String("api", apiName),
		attribute.String("method", method),
		attribute.Bool("success", executeErr == nil),
	}
	s.calls.Add(ctx, 1, metric.WithAttributes(attrs...))
	s.duration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs[:2]...))

	if executeErr != nil {
		span.RecordError(executeErr)
		span.SetStatus(codes.Error, executeErr.Error())
		s.config.Logger.Error("host API call failed",
			"component_id", s.config.ComponentID,
			"api", apiName,
			"method", method,
			"error", executeErr,
			"duration_ms", duration.Milliseconds(),
		)
		return nil, executeErr
	}

	return result, nil
}

// Close cleans up all host API resources
func (s *defaultHostAPISet) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	names := make([]string, 0, len(s.apis))
	for name := range s.apis {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		if closer, ok := s.apis[name].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("failed to close %s: %w", name, err))
			}
		}
	}
	return errs
}

// Config returns the configuration for this host API set
func (s *defaultHostAPISet) Config() HostAPIConfig {
	return s.config
}

// Context keys for passing data through the call stack
type hostAPISetKey struct{}
