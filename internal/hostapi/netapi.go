package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-openapi/spec"

	"github.com/okra-platform/egress/internal/allowedhosts"
	"github.com/okra-platform/egress/internal/outbound"
)

// NetAPIName is the namespace of the outbound networking host API
const NetAPIName = "okra.net"

const netAPIVersion = "v1.0.0"

type netAPIFactory struct{}

// NewNetAPIFactory returns the factory for "okra.net", which lets guests
// check destinations against their allow-list and make guarded requests.
func NewNetAPIFactory() HostAPIFactory {
	return netAPIFactory{}
}

func (netAPIFactory) Name() string    { return NetAPIName }
func (netAPIFactory) Version() string { return netAPIVersion }

func (netAPIFactory) Create(ctx context.Context, config HostAPIConfig) (HostAPI, error) {
	if config.Outbound == nil {
		return nil, fmt.Errorf("%s requires outbound networking for component %q", NetAPIName, config.ComponentID)
	}
	maxBody := config.MaxFetchBodySize
	if maxBody == 0 {
		maxBody = DefaultMaxFetchBodySize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &netAPI{
		component: config.Outbound,
		transport: config.Outbound.Transport(),
		maxBody:   maxBody,
		logger:    logger.With("api", NetAPIName, "component_id", config.ComponentID),
	}, nil
}

func (netAPIFactory) Methods() []MethodMetadata {
	urlDenied := ErrorMetadata{Code: ErrorCodeURLDenied, Description: "destination is not in allowed_outbound_hosts"}
	invalid := ErrorMetadata{Code: ErrorCodeInvalidParameters, Description: "parameters could not be decoded"}
	allowed := objectSchema([]string{"allowed"}, map[string]spec.Schema{
		"allowed": *spec.BooleanProperty(),
	})

	return []MethodMetadata{
		{
			Name:        "checkUrl",
			Description: "Reports whether the component may reach a URL",
			Parameters: objectSchema([]string{"url"}, map[string]spec.Schema{
				"url":            *spec.StringProperty(),
				"fallbackScheme": *spec.StringProperty().WithDescription("scheme assumed when url has none (default https)"),
			}),
			Returns: allowed,
			Errors:  []ErrorMetadata{invalid},
		},
		{
			Name:        "checkRelative",
			Description: "Reports whether the component may make self requests",
			Parameters: objectSchema(nil, map[string]spec.Schema{
				"schemes": *spec.ArrayProperty(spec.StringProperty()).WithDescription("default [http, https]"),
			}),
			Returns: allowed,
			Errors:  []ErrorMetadata{invalid},
		},
		{
			Name:        "serviceChainingTarget",
			Description: "Returns the component addressed by a service chaining URL",
			Parameters: objectSchema([]string{"url"}, map[string]spec.Schema{
				"url": *spec.StringProperty(),
			}),
			Returns: objectSchema([]string{"chained"}, map[string]spec.Schema{
				"chained": *spec.BooleanProperty(),
				"target":  *spec.StringProperty(),
			}),
			Errors: []ErrorMetadata{invalid},
		},
		{
			Name:        "fetch",
			Description: "Sends an HTTP request through the component's guarded transport",
			Parameters: objectSchema([]string{"url"}, map[string]spec.Schema{
				"method":  *spec.StringProperty().WithDescription("default GET"),
				"url":     *spec.StringProperty(),
				"headers": *spec.MapProperty(spec.StringProperty()),
				"body":    *spec.StrFmtProperty("byte"),
			}),
			Returns: objectSchema([]string{"status"}, map[string]spec.Schema{
				"status":  *spec.Int32Property(),
				"headers": *spec.MapProperty(spec.ArrayProperty(spec.StringProperty())),
				"body":    *spec.StrFmtProperty("byte"),
			}),
			Errors: []ErrorMetadata{
				invalid,
				urlDenied,
				{Code: ErrorCodeDestinationProhibited, Description: "every address of the destination is blocked"},
				{Code: ErrorCodeResponseTooLarge, Description: "response body exceeds the fetch limit"},
				{Code: ErrorCodeRequestFailed, Description: "the request failed in transit"},
			},
		},
	}
}

func objectSchema(required []string, props map[string]spec.Schema) *spec.Schema {
	s := new(spec.Schema).Typed("object", "")
	for name, prop := range props {
		s.SetProperty(name, prop)
	}
	if len(required) > 0 {
		s.WithRequired(required...)
	}
	return s
}

type netAPI struct {
	component *outbound.Component
	transport http.RoundTripper
	maxBody   int
	logger    *slog.Logger
}

var _ io.Closer = (*netAPI)(nil)

func (a *netAPI) Name() string    { return NetAPIName }
func (a *netAPI) Version() string { return netAPIVersion }

type checkURLParams struct {
	URL            string `json:"url"`
	FallbackScheme string `json:"fallbackScheme,omitempty"`
}

type checkRelativeParams struct {
	Schemes []string `json:"schemes,omitempty"`
}

type checkResult struct {
	Allowed bool `json:"allowed"`
}

type chainingParams struct {
	URL string `json:"url"`
}

type chainingResult struct {
	Chained bool   `json:"chained"`
	Target  string `json:"target,omitempty"`
}

type fetchParams struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

type fetchResult struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

func (a *netAPI) Execute(ctx context.Context, method string, parameters json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "checkUrl":
		var p checkURLParams
		if err := decodeParams(parameters, &p); err != nil {
			return nil, err
		}
		if p.URL == "" {
			return nil, invalidParams("url is required")
		}
		if p.FallbackScheme == "" {
			p.FallbackScheme = "https"
		}
		return json.Marshal(checkResult{Allowed: a.component.CheckURL(ctx, p.URL, p.FallbackScheme)})

	case "checkRelative":
		var p checkRelativeParams
		if err := decodeParams(parameters, &p); err != nil {
			return nil, err
		}
		if len(p.Schemes) == 0 {
			p.Schemes = []string{"http", "https"}
		}
		return json.Marshal(checkResult{Allowed: a.component.CheckRelative(ctx, p.Schemes...)})

	case "serviceChainingTarget":
		var p chainingParams
		if err := decodeParams(parameters, &p); err != nil {
			return nil, err
		}
		u, err := url.Parse(p.URL)
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		target, ok := allowedhosts.ParseServiceChainingTarget(u)
		return json.Marshal(chainingResult{Chained: ok, Target: target})

	case "fetch":
		var p fetchParams
		if err := decodeParams(parameters, &p); err != nil {
			return nil, err
		}
		return a.fetch(ctx, p)

	default:
		return nil, &HostAPIError{
			Code:    ErrorCodeMethodNotFound,
			Message: fmt.Sprintf("method %s not found", method),
		}
	}
}

func (a *netAPI) fetch(ctx context.Context, p fetchParams) (json.RawMessage, error) {
	if p.URL == "" {
		return nil, invalidParams("url is required")
	}
	if p.Method == "" {
		p.Method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(p.Method), p.URL, bytes.NewReader(p.Body))
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.transport.RoundTrip(req)
	if err != nil {
		return nil, fetchError(p.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(a.maxBody)+1))
	if err != nil {
		return nil, fetchError(p.URL, err)
	}
	if len(body) > a.maxBody {
		return nil, &HostAPIError{
			Code:    ErrorCodeResponseTooLarge,
			Message: fmt.Sprintf("response body exceeds %d bytes", a.maxBody),
			Details: p.URL,
		}
	}
	a.logger.Debug("fetch completed", "url", p.URL, "status", resp.StatusCode, "bytes", len(body))

	return json.Marshal(fetchResult{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    body,
	})
}

// Close releases pooled connections
func (a *netAPI) Close() error {
	if c, ok := a.transport.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

func fetchError(target string, err error) *HostAPIError {
	switch {
	case errors.Is(err, outbound.ErrRequestDenied):
		return &HostAPIError{Code: ErrorCodeURLDenied, Message: "destination not allowed", Details: target}
	case errors.Is(err, outbound.ErrDestinationIPProhibited):
		return &HostAPIError{Code: ErrorCodeDestinationProhibited, Message: "destination IP prohibited", Details: target}
	default:
		return &HostAPIError{Code: ErrorCodeRequestFailed, Message: err.Error(), Details: target}
	}
}

func decodeParams(parameters json.RawMessage, v any) error {
	if len(parameters) == 0 {
		return nil
	}
	if err := json.Unmarshal(parameters, v); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func invalidParams(details string) *HostAPIError {
	return &HostAPIError{
		Code:    ErrorCodeInvalidParameters,
		Message: "invalid parameters",
		Details: details,
	}
}
