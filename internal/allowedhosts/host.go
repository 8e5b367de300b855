package allowedhosts

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

// hostProfile maps Unicode names to their lower-case ASCII form. Underscores
// are tolerated because internal service names commonly use them.
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
	idna.Transitional(false),
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// canonicalPatternHost validates host as a DNS name or IP literal (IPv6 may be
// bracketed) and returns its canonical form.
func canonicalPatternHost(host string) (string, error) {
	if host == "" {
		return "", errors.New("host is empty")
	}
	if inner, ok := strings.CutPrefix(host, "["); ok {
		inner, ok = strings.CutSuffix(inner, "]")
		if !ok {
			return "", fmt.Errorf("%q has an unterminated IPv6 literal", host)
		}
		addr, err := netip.ParseAddr(inner)
		if err != nil || !addr.Is6() {
			return "", fmt.Errorf("%q is not a valid IPv6 literal", host)
		}
		return addr.String(), nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String(), nil
	}
	return canonicalDomain(host)
}

// canonicalDomain validates name as a DNS name and returns its ASCII form
// without the trailing root dot.
func canonicalDomain(name string) (string, error) {
	if name == "" {
		return "", errors.New("domain is empty")
	}
	ascii, err := hostProfile.ToASCII(name)
	if err != nil {
		return "", fmt.Errorf("%q is not a valid domain name: %w", name, err)
	}
	if len(ascii) > maxDomainLength {
		return "", fmt.Errorf("%q is longer than %d characters", name, maxDomainLength)
	}

	ascii = strings.TrimSuffix(ascii, ".")
	labels := strings.Split(ascii, ".")
	for _, label := range labels {
		if label == "" {
			return "", fmt.Errorf("%q contains an empty label", name)
		}
		if len(label) > maxLabelLength {
			return "", fmt.Errorf("%q has a label longer than %d characters", name, maxLabelLength)
		}
		for _, c := range label {
			if !isLabelChar(c) {
				return "", fmt.Errorf("%q contains invalid character %q", name, c)
			}
		}
	}
	return ascii, nil
}

func isLabelChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

// canonicalURLHost normalizes a host taken from a parsed URL so it compares
// equal to canonicalPatternHost output. It never fails; unparsable names are
// only lower-cased. One trailing root dot is dropped.
func canonicalURLHost(host string) string {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String()
	}
	host = strings.TrimSuffix(host, ".")
	if ascii, err := hostProfile.ToASCII(host); err == nil {
		return ascii
	}
	return strings.ToLower(host)
}
