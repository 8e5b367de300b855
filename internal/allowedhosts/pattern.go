// Package allowedhosts parses allow-list entries for outbound networking and
// decides whether a concrete destination is permitted by them.
//
// An entry has the form <scheme>://<host>[:<port>]. Each part may be a
// wildcard ("*"); the host may also be "self" (requests back into the
// application), a "*.<domain>" subdomain wildcard or a CIDR literal, and the
// port may be a half-open range "start..end".
package allowedhosts

import (
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// InsecureAllowAll is the historical entry that disabled sandboxing entirely.
// It is rejected; "*://*:*" must be used instead.
const InsecureAllowAll = "insecure:allow-all"

const learnMore = "Learn more: https://spinframework.dev/v3/http-outbound#granting-http-permissions-to-components"

// HostPattern is a single parsed allow-list entry. A URL matches the pattern
// when its scheme, host and port all match.
type HostPattern struct {
	original string
	scheme   SchemeMatcher
	host     HostMatcher
	port     PortMatcher
}

// NewHostPattern assembles a pattern from its parts.
func NewHostPattern(scheme SchemeMatcher, host HostMatcher, port PortMatcher) HostPattern {
	return HostPattern{scheme: scheme, host: host, port: port}
}

// ParsePattern parses one allow-list entry. It never touches the network.
func ParsePattern(text string) (HostPattern, error) {
	input := strings.TrimSpace(text)
	if input == InsecureAllowAll {
		return HostPattern{}, parseErr(text, ErrInsecureAllowAll, "")
	}

	scheme, rest, ok := strings.Cut(input, "://")
	if !ok {
		switch input {
		case "*", ":", "", "?":
			return HostPattern{}, parseErr(text, ErrMissingScheme,
				"hosts must be in the form <scheme>://<host>[:<port>], with '*' wildcards allowed for each; "+
					"if you intended to allow all outbound networking, you can use '*://*:*' - this will obviate all network sandboxing. %s", learnMore)
		default:
			return HostPattern{}, parseErr(text, ErrMissingScheme, "expected a scheme such as 'http://' or '*://'. %s", learnMore)
		}
	}

	host, port := rest, ""
	if i := strings.LastIndexByte(rest, ':'); i > strings.LastIndexByte(rest, ']') {
		host, port = rest[:i], rest[i+1:]
	}
	if p, path, found := strings.Cut(port, "/"); found {
		if path != "" {
			return HostPattern{}, parseErr(text, ErrPathNotAllowed, "")
		}
		port = p
	}

	schemeMatcher, err := parseScheme(text, scheme)
	if err != nil {
		return HostPattern{}, err
	}
	hostMatcher, err := parseHost(text, host)
	if err != nil {
		return HostPattern{}, err
	}
	portMatcher, err := parsePort(text, port, strings.ToLower(scheme))
	if err != nil {
		return HostPattern{}, err
	}

	return HostPattern{
		original: text,
		scheme:   schemeMatcher,
		host:     hostMatcher,
		port:     portMatcher,
	}, nil
}

// Scheme returns the scheme matcher.
func (p HostPattern) Scheme() SchemeMatcher { return p.scheme }

// Host returns the host matcher.
func (p HostPattern) Host() HostMatcher { return p.host }

// Port returns the port matcher.
func (p HostPattern) Port() PortMatcher { return p.port }

// String returns the entry as originally written.
func (p HostPattern) String() string { return p.original }

// Equal reports whether both patterns match the same destinations. The
// original text is ignored.
func (p HostPattern) Equal(other HostPattern) bool {
	return p.scheme.equal(other.scheme) && p.host.equal(other.host) && p.port.equal(other.port)
}

// Allows reports whether url matches this pattern.
func (p HostPattern) Allows(url OutboundURL) bool {
	port, hasPort := url.Port()
	return p.scheme.Allows(url.Scheme()) &&
		p.host.Allows(url.Host()) &&
		p.port.Allows(port, hasPort, url.Scheme())
}

// AllowsRelative reports whether self requests using any of schemes match
// this pattern.
func (p HostPattern) AllowsRelative(schemes ...string) bool {
	return p.host.AllowsRelative() && slices.ContainsFunc(schemes, p.scheme.Allows)
}

// SchemeMatcher matches the scheme part of a URL.
type SchemeMatcher struct {
	any     bool
	schemes []string
}

// AnyScheme matches every scheme ("*://").
func AnyScheme() SchemeMatcher { return SchemeMatcher{any: true} }

// Schemes matches exactly the given schemes.
func Schemes(schemes ...string) SchemeMatcher {
	lowered := make([]string, len(schemes))
	for i, s := range schemes {
		lowered[i] = strings.ToLower(s)
	}
	return SchemeMatcher{schemes: lowered}
}

func parseScheme(input, scheme string) (SchemeMatcher, error) {
	if scheme == "*" {
		return AnyScheme(), nil
	}
	if strings.HasPrefix(scheme, "{") {
		return SchemeMatcher{}, parseErr(input, ErrSchemeList, "")
	}
	if scheme == "" {
		return SchemeMatcher{}, parseErr(input, ErrInvalidScheme, "scheme is empty")
	}
	for _, c := range scheme {
		if !unicode.IsLetter(c) {
			return SchemeMatcher{}, parseErr(input, ErrInvalidScheme, "scheme %q contains non alphabetic character", scheme)
		}
	}
	return Schemes(scheme), nil
}

// AllowsAny reports whether this is the "*" wildcard.
func (m SchemeMatcher) AllowsAny() bool { return m.any }

// List returns the accepted schemes; it is empty for the wildcard.
func (m SchemeMatcher) List() []string { return slices.Clone(m.schemes) }

// Allows reports whether scheme is accepted.
func (m SchemeMatcher) Allows(scheme string) bool {
	return m.any || slices.Contains(m.schemes, scheme)
}

func (m SchemeMatcher) equal(other SchemeMatcher) bool {
	return m.any == other.any && slices.Equal(m.schemes, other.schemes)
}

// HostKind enumerates the host matcher variants.
type HostKind int

const (
	HostAny HostKind = iota
	HostSubdomain
	HostSelf
	HostExact
	HostCIDR
)

func (k HostKind) String() string {
	switch k {
	case HostAny:
		return "any"
	case HostSubdomain:
		return "subdomain"
	case HostSelf:
		return "self"
	case HostExact:
		return "exact"
	case HostCIDR:
		return "cidr"
	default:
		return "unknown"
	}
}

// HostMatcher matches the host part of a URL.
type HostMatcher struct {
	kind   HostKind
	value  string // suffix for HostSubdomain, canonical host for HostExact
	prefix netip.Prefix
}

// AnyHost matches every host ("*").
func AnyHost() HostMatcher { return HostMatcher{kind: HostAny} }

// SelfHost matches only relative requests back into the application.
func SelfHost() HostMatcher { return HostMatcher{kind: HostSelf} }

// SubdomainOf matches strict subdomains of domain.
func SubdomainOf(domain string) HostMatcher {
	return HostMatcher{kind: HostSubdomain, value: "." + canonicalURLHost(domain)}
}

// ExactHost matches a single host name or IP literal.
func ExactHost(host string) HostMatcher {
	return HostMatcher{kind: HostExact, value: canonicalURLHost(host)}
}

// CIDRHost matches IP literal hosts inside prefix.
func CIDRHost(prefix netip.Prefix) HostMatcher {
	return HostMatcher{kind: HostCIDR, prefix: prefix.Masked()}
}

func parseHost(input, host string) (HostMatcher, error) {
	host = strings.TrimSpace(host)
	switch host {
	case "*":
		return AnyHost(), nil
	case "self", "self.alt":
		return SelfHost(), nil
	}

	if strings.HasPrefix(host, "{") {
		return HostMatcher{}, parseErr(input, ErrHostList, "")
	}

	if strings.Contains(host, "/") {
		if prefix, err := netip.ParsePrefix(host); err == nil {
			return CIDRHost(prefix), nil
		}
		before, path, _ := strings.Cut(host, "/")
		if path != "" {
			return HostMatcher{}, parseErr(input, ErrPathNotAllowed, "")
		}
		host = before
	}

	if domain, ok := strings.CutPrefix(host, "*."); ok {
		if strings.Contains(domain, "*") {
			return HostMatcher{}, parseErr(input, ErrInvalidWildcard, "wildcards are allowed only as prefixes")
		}
		canonical, err := canonicalDomain(domain)
		if err != nil {
			return HostMatcher{}, parseErr(input, ErrInvalidHost, "%v", err)
		}
		return HostMatcher{kind: HostSubdomain, value: "." + canonical}, nil
	}
	if strings.Contains(host, "*") {
		return HostMatcher{}, parseErr(input, ErrInvalidWildcard, "wildcards are allowed only as subdomains")
	}

	canonical, err := canonicalPatternHost(host)
	if err != nil {
		return HostMatcher{}, parseErr(input, ErrInvalidHost, "%v", err)
	}
	return HostMatcher{kind: HostExact, value: canonical}, nil
}

// Kind returns the matcher variant.
func (m HostMatcher) Kind() HostKind { return m.kind }

// Value returns the canonical host (exact) or ".domain" suffix (subdomain).
func (m HostMatcher) Value() string { return m.value }

// Prefix returns the network of a CIDR matcher.
func (m HostMatcher) Prefix() netip.Prefix { return m.prefix }

// Allows reports whether the canonical host of an absolute URL matches.
func (m HostMatcher) Allows(host string) bool {
	switch m.kind {
	case HostAny:
		return true
	case HostSubdomain:
		return strings.HasSuffix(host, m.value)
	case HostExact:
		return host == m.value
	case HostCIDR:
		addr, err := netip.ParseAddr(host)
		if err != nil {
			return false
		}
		return m.prefix.Contains(addr.WithZone(""))
	default:
		// self never matches an absolute URL
		return false
	}
}

// AllowsRelative reports whether relative ("self") requests match.
func (m HostMatcher) AllowsRelative() bool {
	return m.kind == HostAny || m.kind == HostSelf
}

func (m HostMatcher) equal(other HostMatcher) bool {
	return m == other
}

// PortSpec is a single port or the half-open range [Start, End).
type PortSpec struct {
	Start uint16
	End   uint16
	Range bool
}

// SinglePort returns a spec matching exactly port.
func SinglePort(port uint16) PortSpec { return PortSpec{Start: port} }

// PortRange returns a spec matching start <= port < end.
func PortRange(start, end uint16) PortSpec { return PortSpec{Start: start, End: end, Range: true} }

// Contains reports whether port falls within the spec.
func (s PortSpec) Contains(port uint16) bool {
	if s.Range {
		return s.Start <= port && port < s.End
	}
	return s.Start == port
}

func (s PortSpec) String() string {
	if s.Range {
		return strconv.Itoa(int(s.Start)) + ".." + strconv.Itoa(int(s.End))
	}
	return strconv.Itoa(int(s.Start))
}

// PortMatcher matches the port of a URL, falling back to the scheme's
// well-known port when the URL has none.
type PortMatcher struct {
	any   bool
	specs []PortSpec
}

// AnyPort matches every port (":*").
func AnyPort() PortMatcher { return PortMatcher{any: true} }

// Ports matches any of specs.
func Ports(specs ...PortSpec) PortMatcher { return PortMatcher{specs: slices.Clone(specs)} }

func parsePort(input, port, scheme string) (PortMatcher, error) {
	if port == "" {
		p, ok := WellKnownPort(scheme)
		if !ok {
			return PortMatcher{}, parseErr(input, ErrNoDefaultPort,
				"no port was provided and the scheme %q does not have a known default port number", scheme)
		}
		return Ports(SinglePort(p)), nil
	}
	if port == "*" {
		return AnyPort(), nil
	}
	if strings.HasPrefix(port, "{") {
		return PortMatcher{}, parseErr(input, ErrPortList, "")
	}

	if start, end, ok := strings.Cut(port, ".."); ok {
		s, err := strconv.ParseUint(start, 10, 16)
		if err != nil {
			return PortMatcher{}, parseErr(input, ErrInvalidPort, "port range %q contains non-number", port)
		}
		e, err := strconv.ParseUint(end, 10, 16)
		if err != nil {
			return PortMatcher{}, parseErr(input, ErrInvalidPort, "port range %q contains non-number", port)
		}
		return Ports(PortRange(uint16(s), uint16(e))), nil
	}

	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return PortMatcher{}, parseErr(input, ErrInvalidPort, "port %q is not a number", port)
	}
	return Ports(SinglePort(uint16(p))), nil
}

// AllowsAny reports whether this is the "*" wildcard.
func (m PortMatcher) AllowsAny() bool { return m.any }

// Specs returns the accepted port specs; it is empty for the wildcard.
func (m PortMatcher) Specs() []PortSpec { return slices.Clone(m.specs) }

// Allows reports whether the URL port (or the scheme default when hasPort is
// false) is accepted.
func (m PortMatcher) Allows(port uint16, hasPort bool, scheme string) bool {
	if m.any {
		return true
	}
	if !hasPort {
		var ok bool
		if port, ok = WellKnownPort(scheme); !ok {
			return false
		}
	}
	return slices.ContainsFunc(m.specs, func(s PortSpec) bool { return s.Contains(port) })
}

func (m PortMatcher) equal(other PortMatcher) bool {
	return m.any == other.any && slices.Equal(m.specs, other.specs)
}

// WellKnownPort returns the default port for scheme.
func WellKnownPort(scheme string) (uint16, bool) {
	switch scheme {
	case "postgres":
		return 5432, true
	case "mysql":
		return 3306, true
	case "redis":
		return 6379, true
	case "mqtt":
		return 1883, true
	case "http":
		return 80, true
	case "https":
		return 443, true
	default:
		return 0, false
	}
}
