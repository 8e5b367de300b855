package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okra-platform/egress/internal/config"
	"github.com/okra-platform/egress/internal/hostapi"
	"github.com/okra-platform/egress/internal/outbound"
)

// componentHost is a component's outbound networking together with the host
// APIs its guests would be handed.
type componentHost struct {
	component *outbound.Component
	set       hostapi.HostAPISet
}

func (h *componentHost) Close() error { return h.set.Close() }

func newHostAPIRegistry() (hostapi.HostAPIRegistry, error) {
	registry := hostapi.NewHostAPIRegistry()
	if err := hostapi.InitializeHostAPIs(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

// prepareComponent wires componentID the way a runtime would: outbound
// networking from the configuration and the host API set named by its
// host_apis entry.
func (c *Controller) prepareComponent(ctx context.Context, cfg *config.Config, componentID string) (*componentHost, error) {
	componentCfg, ok := cfg.Components[componentID]
	if !ok {
		return nil, fmt.Errorf("unknown component %q", componentID)
	}
	hosts, err := cfg.HostList(componentID)
	if err != nil {
		return nil, err
	}
	state, err := outbound.StateFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	component := outbound.New(state, outbound.WithLogger(c.Logger)).
		Prepare(componentID, hosts, cfg.Resolver())

	refs := componentCfg.HostAPIs
	if len(refs) == 0 {
		refs = []string{hostapi.NetAPIName}
	}
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		name, _, err := hostapi.ParseAPIRef(ref)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", componentID, err)
		}
		names = append(names, name)
	}

	registry, err := newHostAPIRegistry()
	if err != nil {
		return nil, err
	}
	set, err := registry.CreateHostAPISet(ctx, refs, hostapi.HostAPIConfig{
		ComponentID:  componentID,
		InstanceID:   component.InstanceID().String(),
		Environment:  "cli",
		PolicyEngine: &hostapi.EgressPolicy{Outbound: component, APIs: names},
		Outbound:     component,
	})
	if err != nil {
		return nil, fmt.Errorf("component %q: %w", componentID, err)
	}
	return &componentHost{component: component, set: set}, nil
}

// call sends one request through the host API entry point guests use and
// returns the data of a successful response.
func (h *componentHost) call(ctx context.Context, api, method string, params any) (json.RawMessage, error) {
	parameters, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	request, err := json.Marshal(hostapi.HostAPIRequest{
		API:        api,
		Method:     method,
		Parameters: parameters,
		Metadata: hostapi.RequestMetadata{
			Component: hostapi.ComponentInfo{
				ID:         h.component.ID(),
				InstanceID: h.component.InstanceID().String(),
			},
		},
	})
	if err != nil {
		return nil, err
	}

	raw, err := hostapi.RunHostAPI(hostapi.WithHostAPISet(ctx, h.set), string(request))
	if err != nil {
		return nil, err
	}
	var resp hostapi.HostAPIResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("invalid host API response: %w", err)
	}
	if !resp.Success {
		if resp.Error == nil {
			return nil, errors.New("host API call failed without an error")
		}
		return nil, resp.Error
	}
	return resp.Data, nil
}

// checkAllowed asks okra.net whether a URL, or a relative request when
// target is SelfTarget, is allowed.
func (h *componentHost) checkAllowed(ctx context.Context, target string) (bool, error) {
	var (
		data json.RawMessage
		err  error
	)
	if target == SelfTarget {
		data, err = h.call(ctx, hostapi.NetAPIName, "checkRelative", map[string]any{
			"schemes": []string{"http", "https"},
		})
	} else {
		data, err = h.call(ctx, hostapi.NetAPIName, "checkUrl", map[string]any{
			"url":            target,
			"fallbackScheme": "https",
		})
	}
	if err != nil {
		return false, err
	}
	var result struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return false, fmt.Errorf("invalid check result: %w", err)
	}
	return result.Allowed, nil
}

// isDenial reports whether err is a host API error for a destination the
// component may not reach.
func isDenial(err error) bool {
	var apiErr *hostapi.HostAPIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case hostapi.ErrorCodePolicyDenied, hostapi.ErrorCodeURLDenied, hostapi.ErrorCodeDestinationProhibited:
		return true
	}
	return false
}

// APIs lists the registered host APIs and their methods
func (c *Controller) APIs(ctx context.Context) error {
	registry, err := newHostAPIRegistry()
	if err != nil {
		return err
	}
	for _, factory := range registry.List() {
		c.Out.Printf("%s@%s\n", factory.Name(), factory.Version())
		for _, method := range factory.Methods() {
			c.Out.Printf("  %-22s %s\n", method.Name, method.Description)
		}
	}
	return nil
}
