package policy

import (
	"net/netip"
	"strings"
)

// IPMatcher is a compiled caller allowlist. Entries may be IPv4 or IPv6
// literals or CIDR ranges. Unparseable entries match nothing.
type IPMatcher struct {
	prefixes []netip.Prefix
	invalid  []string
}

// CompileIPMatcher parses an allowlist
func CompileIPMatcher(entries []string) *IPMatcher {
	m := &IPMatcher{prefixes: make([]netip.Prefix, 0, len(entries))}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if p, ok := parseEntry(entry); ok {
			m.prefixes = append(m.prefixes, p)
			continue
		}
		m.invalid = append(m.invalid, entry)
	}
	return m
}

func parseEntry(entry string) (netip.Prefix, bool) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, false
		}
		if p.Addr().Is4In6() {
			// ::ffff:10.0.0.0/104 style ranges are folded into IPv4 space
			bits := p.Bits() - 96
			if bits < 0 {
				return netip.Prefix{}, false
			}
			p = netip.PrefixFrom(p.Addr().Unmap(), bits)
		}
		return p.Masked(), true
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap().WithZone("")
	return netip.PrefixFrom(addr, addr.BitLen()), true
}

// Contains reports whether callerIP is covered by any entry. An empty or
// unparseable caller address never matches.
func (m *IPMatcher) Contains(callerIP string) bool {
	addr, ok := ParseCallerIP(callerIP)
	if !ok {
		return false
	}
	for _, p := range m.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Len returns the number of usable entries
func (m *IPMatcher) Len() int {
	return len(m.prefixes)
}

// Invalid returns the entries that could not be parsed
func (m *IPMatcher) Invalid() []string {
	return m.invalid
}

// ParseCallerIP parses a caller address, accepting "host:port" and
// bracketed IPv6 forms as found in http.Request.RemoteAddr.
func ParseCallerIP(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap().WithZone(""), true
	}
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}
