package hostapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"

	"github.com/okra-platform/egress/internal/outbound"
)

// PolicyEngine decides whether a host API call may proceed
type PolicyEngine interface {
	// Evaluate checks if a host API call is allowed
	Evaluate(ctx context.Context, check PolicyCheck) (PolicyDecision, error)
}

// PolicyCheck represents a request to check a policy
type PolicyCheck struct {
	Component ComponentInfo          // calling component
	Request   HostAPIRequest         // the full request being evaluated
	Context   map[string]interface{} // additional context (e.g., environment)
}

// PolicyDecision represents the result of a policy check
type PolicyDecision struct {
	Allowed  bool
	Reason   string
	Metadata map[string]interface{}
}

// AllowAllPolicy permits every call
type AllowAllPolicy struct{}

func (AllowAllPolicy) Evaluate(context.Context, PolicyCheck) (PolicyDecision, error) {
	return PolicyDecision{Allowed: true}, nil
}

// EgressPolicy restricts which APIs a component may call and rejects fetches
// to destinations outside the component's allow-list before they run.
type EgressPolicy struct {
	Outbound *outbound.Component
	APIs     []string // permitted API names; empty permits all
}

var _ PolicyEngine = (*EgressPolicy)(nil)

func (p *EgressPolicy) Evaluate(ctx context.Context, check PolicyCheck) (PolicyDecision, error) {
	req := check.Request
	if len(p.APIs) > 0 && !slices.Contains(p.APIs, req.API) {
		return PolicyDecision{
			Reason: fmt.Sprintf("component %s may not call %s", check.Component.ID, req.API),
		}, nil
	}
	if req.API != NetAPIName || req.Method != "fetch" {
		return PolicyDecision{Allowed: true}, nil
	}
	if p.Outbound == nil {
		return PolicyDecision{}, fmt.Errorf("no outbound networking for component %s", check.Component.ID)
	}

	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(req.Parameters, &params); err != nil {
		// Left to the API to report as invalid parameters
		return PolicyDecision{Allowed: true}, nil
	}
	u, err := url.Parse(params.URL)
	if err != nil {
		return PolicyDecision{Allowed: true}, nil
	}
	if !p.Outbound.CheckRequest(ctx, u) {
		return PolicyDecision{
			Reason:   fmt.Sprintf("destination not allowed: %s", params.URL),
			Metadata: map[string]interface{}{"url": params.URL},
		}, nil
	}
	return PolicyDecision{Allowed: true}, nil
}
