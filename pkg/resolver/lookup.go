// Package resolver implements the single-flight, TTL-cached DNS resolver
// used to turn a hostname-only workload into an IP at connection time.
package resolver

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// Record is one resolved A/AAAA answer, with the TTL the server attached to
// it.
type Record struct {
	IP  netip.Addr
	TTL time.Duration
}

// Lookup performs an asynchronous A+AAAA lookup for host. Implementations
// must tolerate being constructed against a misconfigured resolver: a
// construction error is logged as a warning by the caller, never fatal.
type Lookup interface {
	LookupHost(ctx context.Context, host string) ([]Record, error)
}

// netLookup is the production Lookup backed by the operating system's
// resolver (net.Resolver). It does not have access to real per-record TTLs
// -- the stdlib resolver throws them away -- so it reports DefaultTTL for
// every record, same as a resolver with no TTL information available.
type netLookup struct {
	resolver *net.Resolver
}

// DefaultTTL is used by netLookup, which cannot observe per-record TTLs
// from the Go stdlib resolver.
const DefaultTTL = 30 * time.Second

// NewNetLookup returns a Lookup backed by net.DefaultResolver.
func NewNetLookup() Lookup {
	return &netLookup{resolver: net.DefaultResolver}
}

func (n *netLookup) LookupHost(ctx context.Context, host string) ([]Record, error) {
	addrs, err := n.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(addrs))
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		out = append(out, Record{IP: ip.Unmap(), TTL: DefaultTTL})
	}
	return out, nil
}

// miekgLookup is a Lookup that queries an upstream recursive resolver
// directly via github.com/miekg/dns, preserving each record's real TTL --
// the shape the spec's refresh_rate derivation (minimum TTL across returned
// records) actually needs. cmd/proxystate-agent wires it when -dns-server is
// set and uses netLookup otherwise.
type miekgLookup struct {
	client *dns.Client
	server string
}

// NewMiekgLookup returns a Lookup that queries server (host:port) directly
// using the miekg/dns client, for both A and AAAA record types.
func NewMiekgLookup(server string) Lookup {
	return &miekgLookup{client: new(dns.Client), server: server}
}

func (m *miekgLookup) LookupHost(ctx context.Context, host string) ([]Record, error) {
	fqdn := dns.Fqdn(host)

	var out []Record
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)
		msg.RecursionDesired = true

		resp, _, err := m.client.ExchangeContext(ctx, msg, m.server)
		if err != nil {
			return nil, err
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				if ip, ok := netip.AddrFromSlice(rec.A); ok {
					out = append(out, Record{IP: ip.Unmap(), TTL: time.Duration(rec.Hdr.Ttl) * time.Second})
				}
			case *dns.AAAA:
				if ip, ok := netip.AddrFromSlice(rec.AAAA); ok {
					out = append(out, Record{IP: ip.Unmap(), TTL: time.Duration(rec.Hdr.Ttl) * time.Second})
				}
			}
		}
	}
	return out, nil
}
