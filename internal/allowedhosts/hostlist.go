package allowedhosts

import (
	"context"
	"fmt"
	"strings"
)

// HostEntry is one allow-list entry: either parsed up front or a template
// whose parsing is deferred until its variables are known.
type HostEntry struct {
	pattern  HostPattern
	template Template
	deferred bool
}

// IsTemplated reports whether the entry is resolved at runtime.
func (e HostEntry) IsTemplated() bool { return e.deferred }

// Pattern returns the parsed pattern of a literal entry.
func (e HostEntry) Pattern() (HostPattern, bool) { return e.pattern, !e.deferred }

// Template returns the template of a deferred entry.
func (e HostEntry) Template() (Template, bool) { return e.template, e.deferred }

func (e HostEntry) resolve(ctx context.Context, resolver Resolver) (HostPattern, error) {
	if !e.deferred {
		return e.pattern, nil
	}
	rendered, err := e.template.Render(ctx, resolver)
	if err != nil {
		return HostPattern{}, err
	}
	return ParsePattern(rendered)
}

// HostList is a component's allow-list as written, with literal entries
// already validated.
type HostList struct {
	entries []HostEntry
}

// ParseHostList parses hosts. Literal entries are fully parsed; entries
// containing "{{ }}" placeholders only have their template syntax checked.
func ParseHostList(hosts []string) (HostList, error) {
	if len(hosts) == 1 && strings.TrimSpace(hosts[0]) == InsecureAllowAll {
		return HostList{}, parseErr(hosts[0], ErrInsecureAllowAll, "")
	}
	list := HostList{entries: make([]HostEntry, 0, len(hosts))}
	for _, host := range hosts {
		tmpl, err := ParseTemplate(host)
		if err != nil {
			return HostList{}, err
		}
		if !tmpl.IsLiteral() {
			list.entries = append(list.entries, HostEntry{template: tmpl, deferred: true})
			continue
		}
		pattern, err := ParsePattern(host)
		if err != nil {
			return HostList{}, err
		}
		list.entries = append(list.entries, HostEntry{pattern: pattern})
	}
	return list, nil
}

// ValidateHostList checks hosts without resolving templates.
func ValidateHostList(hosts []string) error {
	_, err := ParseHostList(hosts)
	return err
}

// Entries returns the entries in order.
func (l HostList) Entries() []HostEntry {
	out := make([]HostEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l HostList) Len() int { return len(l.entries) }

// Resolve renders templated entries with resolver and returns the policy.
func (l HostList) Resolve(ctx context.Context, resolver Resolver) (Policy, error) {
	patterns := make([]HostPattern, 0, len(l.entries))
	for _, entry := range l.entries {
		pattern, err := entry.resolve(ctx, resolver)
		if err != nil {
			return Policy{}, fmt.Errorf("resolving allowed host: %w", err)
		}
		patterns = append(patterns, pattern)
	}
	return Policy{patterns: patterns}, nil
}

// Source returns a gate source that resolves the list with resolver.
func (l HostList) Source(resolver Resolver) Source {
	return func(ctx context.Context) (Policy, error) {
		return l.Resolve(ctx, resolver)
	}
}
