package allowedhosts

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
)

const (
	// ServiceChainingDomain is the domain used for in-process requests
	// between components.
	ServiceChainingDomain = "spin.internal"
	// ServiceChainingSuffix is ServiceChainingDomain with a leading dot.
	ServiceChainingSuffix = "." + ServiceChainingDomain
)

// ParseServiceChainingHost returns the target component of a
// "<component>.spin.internal[:port]" host.
func ParseServiceChainingHost(host string) (string, bool) {
	host = strings.TrimSpace(host)
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	first, rest, ok := strings.Cut(host, ".")
	if !ok || rest != ServiceChainingDomain {
		return "", false
	}
	return first, true
}

// ParseServiceChainingTarget returns the target component of u, if u
// addresses one.
func ParseServiceChainingTarget(u *url.URL) (string, bool) {
	if u == nil || u.Host == "" {
		return "", false
	}
	return ParseServiceChainingHost(u.Host)
}

// IsServiceChainingHost reports whether host addresses a component.
func IsServiceChainingHost(host string) bool {
	_, ok := ParseServiceChainingHost(host)
	return ok
}

// ValidateServiceChaining checks that every retained component only chains
// to other retained components. Wildcard chaining is rejected outright and
// templated entries are skipped because they cannot be resolved yet.
func ValidateServiceChaining(components map[string][]string, retained []string) error {
	ids := make([]string, 0, len(components))
	for id := range components {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !slices.Contains(retained, id) {
			continue
		}
		for _, host := range components[id] {
			if strings.Contains(host, "{{") {
				continue
			}
			u, err := url.Parse(strings.TrimSpace(host))
			if err != nil {
				continue
			}
			target, ok := ParseServiceChainingTarget(u)
			if !ok || slices.Contains(retained, target) {
				continue
			}
			if target == "*" {
				return fmt.Errorf("selected component %q cannot use wildcard service chaining: allowed_outbound_hosts = [%q]",
					id, "http://*"+ServiceChainingSuffix)
			}
			return fmt.Errorf("selected component %q cannot use service chaining to unselected component: allowed_outbound_hosts = [%q]",
				id, "http://"+target+ServiceChainingSuffix)
		}
	}
	return nil
}
