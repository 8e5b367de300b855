package hostapi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan:
// 1. Test registering, getting and listing factories
// 2. Test duplicate registration is rejected
// 3. Test creating a host API set applies defaults
// 4. Test missing APIs and factory failures
// 5. Test InitializeHostAPIs registers okra.net
// 6. Test versioned registration and reference resolution

// Test: Basic registry operations
func TestHostAPIRegistry_BasicOperations(t *testing.T) {
	registry := NewHostAPIRegistry()

	require.NoError(t, registry.Register(&mockFactory{name: "test.b"}))
	require.NoError(t, registry.Register(&mockFactory{name: "test.a"}))

	factory, ok := registry.Get("test.a")
	require.True(t, ok)
	assert.Equal(t, "test.a", factory.Name())

	_, ok = registry.Get("test.missing")
	assert.False(t, ok)

	list := registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, "test.a", list[0].Name())
	assert.Equal(t, "test.b", list[1].Name())
}

// Test: Duplicate registration fails
func TestHostAPIRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewHostAPIRegistry()
	require.NoError(t, registry.Register(&mockFactory{name: "test.api"}))

	err := registry.Register(&mockFactory{name: "test.api"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

// Test: Creating a set passes configuration with defaults to factories
func TestHostAPIRegistry_CreateHostAPISet(t *testing.T) {
	registry := NewHostAPIRegistry()
	factory := &mockFactory{name: "test.api", api: echoAPI("test.api")}
	require.NoError(t, registry.Register(factory))

	set, err := registry.CreateHostAPISet(context.Background(), []string{"test.api"}, HostAPIConfig{ComponentID: "api"})
	require.NoError(t, err)
	defer set.Close()

	assert.Equal(t, "api", factory.config.ComponentID)
	assert.NotNil(t, factory.config.Tracer)
	assert.NotNil(t, factory.config.Meter)
	assert.NotNil(t, factory.config.Logger)
	assert.IsType(t, AllowAllPolicy{}, factory.config.PolicyEngine)

	api, ok := set.Get("test.api")
	require.True(t, ok)
	assert.Equal(t, "test.api", api.Name())
}

// Test: Unknown APIs fail set creation
func TestHostAPIRegistry_CreateHostAPISetMissingAPI(t *testing.T) {
	registry := NewHostAPIRegistry()

	_, err := registry.CreateHostAPISet(context.Background(), []string{"test.missing"}, HostAPIConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host API test.missing not found")
}

// Test: Already created APIs are closed when a later factory fails
func TestHostAPIRegistry_CreateHostAPISetCleanupOnFailure(t *testing.T) {
	registry := NewHostAPIRegistry()
	created := echoAPI("test.ok")
	require.NoError(t, registry.Register(&mockFactory{name: "test.ok", api: created}))
	require.NoError(t, registry.Register(&mockFactory{name: "test.fail", err: errors.New("no resources")}))

	_, err := registry.CreateHostAPISet(context.Background(), []string{"test.ok", "test.fail"}, HostAPIConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create test.fail")
	assert.True(t, created.closed.Load())
}

// Test: Built-in APIs are registered
func TestInitializeHostAPIs(t *testing.T) {
	registry := NewHostAPIRegistry()
	require.NoError(t, InitializeHostAPIs(registry))

	factory, ok := registry.Get(NetAPIName)
	require.True(t, ok)
	assert.Equal(t, netAPIVersion, factory.Version())

	assert.Error(t, InitializeHostAPIs(registry))
}

// Test: Versions are registered side by side and resolved by reference
func TestHostAPIRegistry_Versions(t *testing.T) {
	registry := NewHostAPIRegistry()
	for _, version := range []string{"v1.0.0", "v1.2.0", "v2.0.0-rc.1", "v2.0.0"} {
		require.NoError(t, registry.Register(&mockFactory{name: "test.api", version: version, api: echoAPI("test.api")}))
	}

	tests := []struct {
		ref     string
		version string
		found   bool
	}{
		{"test.api", "v2.0.0", true},
		{"test.api@v1", "v1.2.0", true},
		{"test.api@v1.0.0", "v1.0.0", true},
		{"test.api@v1.0", "v1.0.0", true},
		{"test.api@v2.0.0-rc.1", "v2.0.0-rc.1", true},
		{"test.api@v3", "", false},
		{"test.api@latest", "", false},
		{"@v1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			factory, ok := registry.Get(tt.ref)
			require.Equal(t, tt.found, ok)
			if ok {
				assert.Equal(t, tt.version, factory.Version())
			}
		})
	}

	list := registry.List()
	require.Len(t, list, 4)
	assert.Equal(t, "v1.0.0", list[0].Version())
	assert.Equal(t, "v2.0.0", list[3].Version())

	err := registry.Register(&mockFactory{name: "test.api", version: "1.0.0"})
	assert.ErrorContains(t, err, "invalid version")
	err = registry.Register(&mockFactory{name: "test@api"})
	assert.ErrorContains(t, err, "invalid host API name")
	err = registry.Register(&mockFactory{name: "test.api", version: "v1.2.0"})
	assert.ErrorContains(t, err, "test.api@v1.2.0 already registered")
}

// Test: A set holds one version per API name
func TestHostAPIRegistry_CreateHostAPISetVersions(t *testing.T) {
	registry := NewHostAPIRegistry()
	v1 := echoAPI("test.api")
	require.NoError(t, registry.Register(&mockFactory{name: "test.api", version: "v1.0.0", api: v1}))
	require.NoError(t, registry.Register(&mockFactory{name: "test.api", version: "v2.0.0", api: echoAPI("test.api")}))

	set, err := registry.CreateHostAPISet(context.Background(), []string{"test.api@v1"}, HostAPIConfig{})
	require.NoError(t, err)
	api, ok := set.Get("test.api")
	require.True(t, ok)
	assert.Same(t, v1, api)
	require.NoError(t, set.Close())

	_, err = registry.CreateHostAPISet(context.Background(), []string{"test.api@v1", "test.api"}, HostAPIConfig{})
	assert.ErrorContains(t, err, "referenced more than once")

	_, err = registry.CreateHostAPISet(context.Background(), []string{"test.api@v9"}, HostAPIConfig{})
	assert.ErrorContains(t, err, "no version matching v9")
}

// Test: API references
func TestParseAPIRef(t *testing.T) {
	name, version, err := ParseAPIRef(" okra.net@v1 ")
	require.NoError(t, err)
	assert.Equal(t, "okra.net", name)
	assert.Equal(t, "v1", version)

	name, version, err = ParseAPIRef("okra.net")
	require.NoError(t, err)
	assert.Equal(t, "okra.net", name)
	assert.Empty(t, version)

	for _, bad := range []string{"", "@v1", "okra.net@1.0", "okra.net@"} {
		_, _, err := ParseAPIRef(bad)
		assert.Error(t, err, bad)
	}
}
