package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
)

// mockHostAPI implements HostAPI for testing
type mockHostAPI struct {
	name      string
	methods   map[string]func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
	closed    atomic.Bool
	failClose bool
}

func (m *mockHostAPI) Name() string    { return m.name }
func (m *mockHostAPI) Version() string { return "v1.0.0" }

func (m *mockHostAPI) Execute(ctx context.Context, method string, parameters json.RawMessage) (json.RawMessage, error) {
	handler, ok := m.methods[method]
	if !ok {
		return nil, &HostAPIError{
			Code:    ErrorCodeMethodNotFound,
			Message: fmt.Sprintf("method %s not found", method),
		}
	}
	return handler(ctx, parameters)
}

func (m *mockHostAPI) Close() error {
	m.closed.Store(true)
	if m.failClose {
		return errors.New("close failed")
	}
	return nil
}

func echoAPI(name string) *mockHostAPI {
	return &mockHostAPI{
		name: name,
		methods: map[string]func(context.Context, json.RawMessage) (json.RawMessage, error){
			"echo": func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
				return params, nil
			},
			"fail": func(context.Context, json.RawMessage) (json.RawMessage, error) {
				return nil, errors.New("boom")
			},
		},
	}
}

// mockFactory hands out a fixed API instance or an error
type mockFactory struct {
	name    string
	version string
	api     *mockHostAPI
	err     error
	config  HostAPIConfig
}

func (f *mockFactory) Name() string              { return f.name }
func (f *mockFactory) Methods() []MethodMetadata { return nil }

func (f *mockFactory) Version() string {
	if f.version == "" {
		return "v1.0.0"
	}
	return f.version
}

func (f *mockFactory) Create(_ context.Context, config HostAPIConfig) (HostAPI, error) {
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return f.api, nil
}

// mockPolicyEngine records checks and returns a fixed decision
type mockPolicyEngine struct {
	decision PolicyDecision
	err      error
	checks   []PolicyCheck
}

func (p *mockPolicyEngine) Evaluate(_ context.Context, check PolicyCheck) (PolicyDecision, error) {
	p.checks = append(p.checks, check)
	return p.decision, p.err
}

// mockHostAPISet lets host function tests control Execute
type mockHostAPISet struct {
	executeFunc func(ctx context.Context, apiName, method string, parameters json.RawMessage) (json.RawMessage, error)
	config      HostAPIConfig
}

func (m *mockHostAPISet) Get(string) (HostAPI, bool) { return nil, false }

func (m *mockHostAPISet) Execute(ctx context.Context, apiName, method string, parameters json.RawMessage) (json.RawMessage, error) {
	if m.executeFunc == nil {
		return json.RawMessage(`{}`), nil
	}
	return m.executeFunc(ctx, apiName, method, parameters)
}

func (m *mockHostAPISet) Config() HostAPIConfig { return m.config }
func (m *mockHostAPISet) Close() error          { return nil }
