package blockednet

import (
	"fmt"
	"net/netip"
	"strings"
)

// PrivateKeyword in a block list enables blocking of all non-global
// addresses.
const PrivateKeyword = "private"

// ParseNetwork parses a CIDR literal, truncating host bits. A bare address
// is treated as a single-host network.
func ParseNetwork(text string) (netip.Prefix, error) {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "/") {
		p, err := netip.ParsePrefix(text)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid network %q: %w", text, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(text)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid network %q: %w", text, err)
	}
	addr = addr.WithZone("")
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// ParseBlockList parses entries that are either CIDR literals or the keyword
// "private".
func ParseBlockList(entries []string) (networks []netip.Prefix, blockPrivate bool, err error) {
	for _, entry := range entries {
		if strings.TrimSpace(entry) == PrivateKeyword {
			blockPrivate = true
			continue
		}
		p, err := ParseNetwork(entry)
		if err != nil {
			return nil, false, fmt.Errorf("%w (expected an IP network in CIDR notation or the keyword %q)", err, PrivateKeyword)
		}
		networks = append(networks, p)
	}
	return networks, blockPrivate, nil
}

// FromList parses entries and builds the block set.
func FromList(entries []string) (BlockSet, error) {
	networks, blockPrivate, err := ParseBlockList(entries)
	if err != nil {
		return BlockSet{}, err
	}
	return New(networks, blockPrivate), nil
}
