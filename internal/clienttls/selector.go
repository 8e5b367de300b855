package clienttls

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Selector maps (component, host) pairs to identities. It is read-only after
// construction. A nil *Selector hands out the default identity.
type Selector struct {
	byComponent map[string]map[string]*Identity
	def         *Identity
}

// NewSelector builds a selector from specs. When several specs name the same
// (component, host) pair the first one wins.
func NewSelector(specs []IdentitySpec) (*Selector, error) {
	s := &Selector{
		byComponent: make(map[string]map[string]*Identity),
		def:         DefaultIdentity(),
	}
	for i, spec := range specs {
		if len(spec.Components) == 0 {
			return nil, fmt.Errorf("client TLS entry %d: %w", i, ErrEmptyComponents)
		}
		if len(spec.Hosts) == 0 {
			return nil, fmt.Errorf("client TLS entry %d: %w", i, ErrEmptyHosts)
		}
		for _, host := range spec.Hosts {
			if err := ValidateHost(host); err != nil {
				return nil, fmt.Errorf("client TLS entry %d: %w", i, err)
			}
		}
		id, err := NewIdentity(spec.RootCertificates, spec.UseSystemRoots, spec.ClientCertPEM, spec.ClientKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("client TLS entry %d: error building TLS client config: %w", i, err)
		}

		for _, component := range spec.Components {
			hosts, ok := s.byComponent[component]
			if !ok {
				hosts = make(map[string]*Identity)
				s.byComponent[component] = hosts
			}
			for _, host := range spec.Hosts {
				key := normalizeHost(host)
				if _, taken := hosts[key]; !taken {
					hosts[key] = id
				}
			}
		}
	}
	return s, nil
}

// Get returns the identity for host when contacted by componentID.
func (s *Selector) Get(componentID, host string) *Identity {
	return s.ForComponent(componentID).Get(host)
}

// ForComponent returns the view of the selector for one component.
func (s *Selector) ForComponent(componentID string) ComponentIdentities {
	if s == nil {
		return ComponentIdentities{def: DefaultIdentity()}
	}
	return ComponentIdentities{hosts: s.byComponent[componentID], def: s.def}
}

// ComponentIdentities is the per-component slice of a Selector.
type ComponentIdentities struct {
	hosts map[string]*Identity
	def   *Identity
}

// Get returns the identity configured for host, or the default.
func (c ComponentIdentities) Get(host string) *Identity {
	if id, ok := c.hosts[normalizeHost(host)]; ok {
		return id
	}
	if c.def == nil {
		return DefaultIdentity()
	}
	return c.def
}

// ValidateHost checks that host is a bare host name or IP address.
func ValidateHost(host string) error {
	if host == "" || strings.ContainsAny(host, " \t/@?#") {
		return fmt.Errorf("%w %q", ErrInvalidHost, host)
	}
	if inner, ok := strings.CutPrefix(host, "["); ok {
		if inner, ok = strings.CutSuffix(inner, "]"); ok {
			if _, err := netip.ParseAddr(inner); err == nil {
				return nil
			}
			return fmt.Errorf("%w %q", ErrInvalidHost, host)
		}
	}
	if !strings.Contains(host, ":") {
		return nil
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return fmt.Errorf("%w %q; %w", ErrInvalidHost, host, ErrHostPort)
	}
	return fmt.Errorf("%w %q", ErrInvalidHost, host)
}

func normalizeHost(host string) string {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String()
	}
	return strings.ToLower(host)
}
