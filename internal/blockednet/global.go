package blockednet

import "net/netip"

// Special-purpose ranges that are not globally routable.
var nonGlobal = mustPrefixes(
	// IPv4
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
	// IPv6
	"::/128",
	"::1/128",
	"::ffff:0:0/96",
	"64:ff9b:1::/48",
	"100::/64",
	"2001::/23",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
)

// Globally reachable assignments carved out of the ranges above.
var globalExceptions = mustPrefixes(
	"192.0.0.9/32",
	"192.0.0.10/32",
	"2001:1::1/128",
	"2001:1::2/128",
	"2001:3::/32",
	"2001:4:112::/48",
	"2001:20::/28",
)

func mustPrefixes(texts ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(texts))
	for i, text := range texts {
		out[i] = netip.MustParsePrefix(text)
	}
	return out
}

// IsGlobal reports whether addr is globally routable.
func IsGlobal(addr netip.Addr) bool {
	addr = addr.WithZone("")
	for _, e := range globalExceptions {
		if e.Contains(addr) {
			return true
		}
	}
	for _, p := range nonGlobal {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

// prefixIsGlobal reports whether any address in p may be globally routable.
func prefixIsGlobal(p netip.Prefix) bool {
	for _, e := range globalExceptions {
		if e.Overlaps(p) {
			return true
		}
	}
	for _, r := range nonGlobal {
		if r.Bits() <= p.Bits() && r.Contains(p.Addr()) {
			return false
		}
	}
	return true
}
