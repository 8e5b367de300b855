// Package blockednet decides whether resolved IP addresses fall inside
// networks that outbound connections must never reach.
package blockednet

import (
	"net/netip"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// BlockSet is an immutable set of blocked networks. Copies share the
// underlying table and are safe for concurrent use.
type BlockSet struct {
	table        *iradix.Tree
	blockPrivate bool
}

// New builds a block set from networks. When blockPrivate is set every
// address that is not globally routable is blocked as well, and networks
// already covered by that rule are not stored.
func New(networks []netip.Prefix, blockPrivate bool) BlockSet {
	txn := iradix.New().Txn()
	for _, network := range networks {
		if !network.IsValid() {
			continue
		}
		network = unmapPrefix(network.Masked())
		if blockPrivate && !prefixIsGlobal(network) {
			continue
		}
		txn.Insert(prefixKey(network), network)
	}
	return BlockSet{table: txn.Commit(), blockPrivate: blockPrivate}
}

// IsEmpty reports whether nothing at all is blocked.
func (s BlockSet) IsEmpty() bool {
	return !s.blockPrivate && (s.table == nil || s.table.Len() == 0)
}

// BlocksPrivate reports whether non-global addresses are blocked.
func (s BlockSet) BlocksPrivate() bool { return s.blockPrivate }

// Networks returns the explicitly stored networks in key order.
func (s BlockSet) Networks() []netip.Prefix {
	if s.table == nil {
		return nil
	}
	var out []netip.Prefix
	s.table.Root().Walk(func(_ []byte, v interface{}) bool {
		out = append(out, v.(netip.Prefix))
		return false
	})
	return out
}

// IsBlocked reports whether addr may not be connected to. IPv6 addresses
// embedding an IPv4 address are blocked if either form is.
func (s BlockSet) IsBlocked(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.WithZone("")
	if s.blockPrivate && !IsGlobal(addr) {
		return true
	}
	if s.lookup(addr) {
		return true
	}
	if v4, ok := embeddedIPv4(addr); ok {
		return s.IsBlocked(v4)
	}
	return false
}

// Match returns the most specific stored network containing addr.
func (s BlockSet) Match(addr netip.Addr) (netip.Prefix, bool) {
	if s.table == nil || !addr.IsValid() {
		return netip.Prefix{}, false
	}
	_, v, ok := s.table.Root().LongestPrefix(addrKey(addr.WithZone("")))
	if !ok {
		return netip.Prefix{}, false
	}
	return v.(netip.Prefix), true
}

func (s BlockSet) lookup(addr netip.Addr) bool {
	_, ok := s.Match(addr)
	return ok
}

// PartitionAddrs splits addrs into allowed and blocked, keeping order. An
// empty set returns addrs unchanged.
func (s BlockSet) PartitionAddrs(addrs []netip.Addr) (allowed, blocked []netip.Addr) {
	return partition(s, addrs, func(a netip.Addr) netip.Addr { return a })
}

// PartitionAddrPorts is PartitionAddrs for socket addresses.
func (s BlockSet) PartitionAddrPorts(addrs []netip.AddrPort) (allowed, blocked []netip.AddrPort) {
	return partition(s, addrs, netip.AddrPort.Addr)
}

func partition[T any](s BlockSet, items []T, addrOf func(T) netip.Addr) (allowed, blocked []T) {
	if s.IsEmpty() {
		return items, nil
	}
	allowed = make([]T, 0, len(items))
	for _, item := range items {
		if s.IsBlocked(addrOf(item)) {
			blocked = append(blocked, item)
		} else {
			allowed = append(allowed, item)
		}
	}
	return allowed, blocked
}

// Translation prefixes whose addresses carry an IPv4 destination.
var (
	nat64Prefix = netip.MustParsePrefix("64:ff9b::/96")
	sixToFour   = netip.MustParsePrefix("2002::/16")
)

// embeddedIPv4 extracts the IPv4 address carried by an IPv6 address:
// IPv4-mapped (::ffff:a.b.c.d), IPv4-compatible (::a.b.c.d), NAT64
// well-known prefix (64:ff9b::a.b.c.d) and 6to4 (2002:aabb:ccdd::).
func embeddedIPv4(addr netip.Addr) (netip.Addr, bool) {
	if !addr.Is6() {
		return netip.Addr{}, false
	}
	if addr.Is4In6() {
		return addr.Unmap(), true
	}
	b := addr.As16()
	switch {
	case nat64Prefix.Contains(addr):
		return netip.AddrFrom4([4]byte(b[12:])), true
	case sixToFour.Contains(addr):
		return netip.AddrFrom4([4]byte(b[2:6])), true
	}
	for _, x := range b[:12] {
		if x != 0 {
			return netip.Addr{}, false
		}
	}
	return netip.AddrFrom4([4]byte(b[12:])), true
}

// unmapPrefix rewrites an IPv4-mapped IPv6 network as the IPv4 network it
// covers so lookups of either form hit it.
func unmapPrefix(p netip.Prefix) netip.Prefix {
	if p.Addr().Is4In6() && p.Bits() >= 96 {
		return netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
	}
	return p
}

// Keys are a family byte followed by one '0' or '1' byte per prefix bit, so
// a stored network is a byte prefix of every address it contains.
func prefixKey(p netip.Prefix) []byte {
	return bitsKey(p.Addr(), p.Bits())
}

func addrKey(addr netip.Addr) []byte {
	return bitsKey(addr, addr.BitLen())
}

func bitsKey(addr netip.Addr, bits int) []byte {
	key := make([]byte, 0, bits+1)
	if addr.Is4() {
		key = append(key, '4')
	} else {
		key = append(key, '6')
	}
	raw := addr.AsSlice()
	for i := 0; i < bits; i++ {
		if raw[i/8]&(0x80>>(i%8)) != 0 {
			key = append(key, '1')
		} else {
			key = append(key, '0')
		}
	}
	return key
}
