package state

import "net/netip"

// Matches reports whether any of p's rules is satisfied by conn. A policy
// with no rules never matches -- it is inert, not a wildcard.
func (p Policy) Matches(conn Connection) bool {
	for _, r := range p.Rules {
		if r.matches(conn) {
			return true
		}
	}
	return false
}

// matches reports whether every non-empty field of r is satisfied by conn.
// An empty field is a wildcard for that dimension.
func (r Rule) matches(conn Connection) bool {
	if len(r.SourcePrincipals) > 0 && !containsString(r.SourcePrincipals, conn.SourcePrincipal) {
		return false
	}
	if len(r.DestinationPrincipals) > 0 && !containsString(r.DestinationPrincipals, conn.DestinationPrincipal) {
		return false
	}
	if len(r.DestinationPorts) > 0 && !containsPort(r.DestinationPorts, conn.DestinationPort) {
		return false
	}
	if len(r.SourceIPBlocks) > 0 && !containsIP(r.SourceIPBlocks, conn.SourceIP) {
		return false
	}
	if len(r.DestinationIPBlocks) > 0 && !containsIP(r.DestinationIPBlocks, conn.DestinationIP) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsPort(haystack []uint16, needle uint16) bool {
	for _, p := range haystack {
		if p == needle {
			return true
		}
	}
	return false
}

func containsIP(blocks []netip.Prefix, ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	for _, b := range blocks {
		if b.Contains(ip) {
			return true
		}
	}
	return false
}
