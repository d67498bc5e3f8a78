package netx

import (
	"fmt"
	"net/netip"
	"strings"
)

// CIDRSet answers membership queries against a fixed list of prefixes. Used
// to decide which proxies are trusted enough for their forwarding headers to
// be believed.
type CIDRSet struct {
	prefixes []netip.Prefix
}

// ParseCIDRSet accepts CIDR notation and bare-IP shorthand ("10.0.0.1" means
// /32, v6 means /128). Empty items are skipped.
func ParseCIDRSet(items []string) (*CIDRSet, error) {
	set := &CIDRSet{}
	for _, raw := range items {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("invalid ip %q: %w", s, err)
			}
			set.prefixes = append(set.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("invalid cidr %q: %w", s, err)
		}
		set.prefixes = append(set.prefixes, p.Masked())
	}
	return set, nil
}

// Contains reports whether addr falls inside any prefix. A nil or empty set
// contains nothing.
func (s *CIDRSet) Contains(addr netip.Addr) bool {
	if s == nil || !addr.IsValid() {
		return false
	}
	// 4-in-6 addresses compare against v4 prefixes.
	addr = addr.Unmap()
	for _, p := range s.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
