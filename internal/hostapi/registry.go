package hostapi

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
)

// HostAPIRegistry manages the host API factories a runtime can hand to
// components. Several versions of one API may be registered side by side.
type HostAPIRegistry interface {
	// Register adds a factory under its name and version
	Register(factory HostAPIFactory) error

	// Get resolves an API reference ("name", "name@v1" or "name@v1.2.3")
	Get(ref string) (HostAPIFactory, bool)

	// List returns every registered factory ordered by name, then version
	List() []HostAPIFactory

	// CreateHostAPISet instantiates the referenced APIs for one component instance
	CreateHostAPISet(ctx context.Context, refs []string, config HostAPIConfig) (HostAPISet, error)
}

// ParseAPIRef splits "name@version" into its parts. The version is empty
// when ref names no version, a major version ("v1") or a full semantic
// version otherwise.
func ParseAPIRef(ref string) (name, version string, err error) {
	name, version, pinned := strings.Cut(strings.TrimSpace(ref), "@")
	if name == "" {
		return "", "", fmt.Errorf("host API reference %q has no name", ref)
	}
	if pinned && !semver.IsValid(version) {
		return "", "", fmt.Errorf("host API reference %q has an invalid version", ref)
	}
	return name, version, nil
}

type defaultHostAPIRegistry struct {
	// name -> canonical version -> factory
	factories map[string]map[string]HostAPIFactory
	mu        sync.RWMutex
}

// NewHostAPIRegistry creates an empty registry
func NewHostAPIRegistry() HostAPIRegistry {
	return &defaultHostAPIRegistry{
		factories: make(map[string]map[string]HostAPIFactory),
	}
}

func (r *defaultHostAPIRegistry) Register(factory HostAPIFactory) error {
	name, version := factory.Name(), factory.Version()
	if name == "" || strings.Contains(name, "@") {
		return fmt.Errorf("invalid host API name %q", name)
	}
	if !semver.IsValid(version) {
		return fmt.Errorf("host API %s has invalid version %q", name, version)
	}
	version = semver.Canonical(version)

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.factories[name]
	if versions == nil {
		versions = make(map[string]HostAPIFactory)
		r.factories[name] = versions
	}
	if _, exists := versions[version]; exists {
		return fmt.Errorf("host API factory %s@%s already registered", name, version)
	}
	versions[version] = factory
	return nil
}

func (r *defaultHostAPIRegistry) Get(ref string) (HostAPIFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, err := r.resolve(ref)
	return factory, err == nil
}

// resolve picks the newest version matching ref. A major-only version
// ("v1") selects the newest release of that major.
func (r *defaultHostAPIRegistry) resolve(ref string) (HostAPIFactory, error) {
	name, want, err := ParseAPIRef(ref)
	if err != nil {
		return nil, err
	}
	versions, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("host API %s not found", name)
	}

	var best string
	for version := range versions {
		switch {
		case want == "":
		case semver.Canonical(want) == version:
		case want == semver.Major(want) && semver.Major(version) == want:
		default:
			continue
		}
		if best == "" || semver.Compare(version, best) > 0 {
			best = version
		}
	}
	if best == "" {
		return nil, fmt.Errorf("host API %s has no version matching %s", name, want)
	}
	return versions[best], nil
}

func (r *defaultHostAPIRegistry) List() []HostAPIFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var factories []HostAPIFactory
	for _, versions := range r.factories {
		for _, factory := range versions {
			factories = append(factories, factory)
		}
	}
	sort.Slice(factories, func(i, j int) bool {
		if factories[i].Name() != factories[j].Name() {
			return factories[i].Name() < factories[j].Name()
		}
		return semver.Compare(factories[i].Version(), factories[j].Version()) < 0
	})
	return factories
}

// CreateHostAPISet instantiates one API per reference. Guests address the
// APIs by name, so a name may only be referenced once. Missing telemetry and
// policy settings fall back to no-ops and AllowAllPolicy.
func (r *defaultHostAPIRegistry) CreateHostAPISet(ctx context.Context, refs []string, config HostAPIConfig) (HostAPISet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config = config.withDefaults()
	hostAPIs := make(map[string]HostAPI)
	closeCreated := func() {
		for _, created := range hostAPIs {
			if closer, ok := created.(io.Closer); ok {
				closer.Close()
			}
		}
	}

	for _, ref := range refs {
		factory, err := r.resolve(ref)
		if err != nil {
			closeCreated()
			return nil, err
		}
		name := factory.Name()
		if _, dup := hostAPIs[name]; dup {
			closeCreated()
			return nil, fmt.Errorf("host API %s referenced more than once", name)
		}

		api, err := factory.Create(ctx, config)
		if err != nil {
			closeCreated()
			return nil, fmt.Errorf("failed to create %s@%s: %w", name, factory.Version(), err)
		}
		hostAPIs[name] = api
	}

	config.Logger.Debug("host API set created",
		"component_id", config.ComponentID,
		"instance_id", config.InstanceID,
		"apis", len(hostAPIs),
	)
	return newHostAPISet(hostAPIs, config), nil
}
