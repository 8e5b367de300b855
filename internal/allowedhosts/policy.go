package allowedhosts

import (
	"slices"
	"strings"
)

// Policy is the resolved allow-list of a component. The zero value allows
// nothing.
type Policy struct {
	allowAll bool
	patterns []HostPattern
}

// AllowAll returns a policy that permits every destination.
func AllowAll() Policy { return Policy{allowAll: true} }

// SpecificPatterns returns a policy permitting destinations matched by any of
// patterns. Duplicates are kept.
func SpecificPatterns(patterns ...HostPattern) Policy {
	return Policy{patterns: slices.Clone(patterns)}
}

// IsAllowAll reports whether the policy permits everything.
func (p Policy) IsAllowAll() bool { return p.allowAll }

// Patterns returns the patterns of a specific policy in order.
func (p Policy) Patterns() []HostPattern { return slices.Clone(p.patterns) }

// Allows reports whether an absolute destination is permitted.
func (p Policy) Allows(url OutboundURL) bool {
	if p.allowAll {
		return true
	}
	for _, pattern := range p.patterns {
		if pattern.Allows(url) {
			return true
		}
	}
	return false
}

// AllowsRelative reports whether a request back into the application using
// one of schemes is permitted.
func (p Policy) AllowsRelative(schemes ...string) bool {
	if p.allowAll {
		return true
	}
	for _, pattern := range p.patterns {
		if pattern.AllowsRelative(schemes...) {
			return true
		}
	}
	return false
}

func (p Policy) String() string {
	if p.allowAll {
		return "allow-all"
	}
	entries := make([]string, len(p.patterns))
	for i, pattern := range p.patterns {
		entries[i] = pattern.String()
	}
	return "[" + strings.Join(entries, ", ") + "]"
}
