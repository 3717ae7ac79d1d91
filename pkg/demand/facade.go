// Package demand wraps state.ProxyState with the on-demand fetch protocol
// the connection pipeline actually calls: a local lookup that, on miss,
// issues a discovery demand and retries once the server has answered (or
// declared the key absent).
package demand

import (
	"context"
	"fmt"
	"math/rand"
	"net/netip"

	logging "github.com/sirupsen/logrus"

	"github.com/zerotrustmesh/ztunnel-state/pkg/resolver"
	"github.com/zerotrustmesh/ztunnel-state/pkg/state"
)

// Facade is the F component: the public API the connection pipeline uses.
type Facade struct {
	state    *state.ProxyState
	resolver *resolver.Resolver
	client   Client // nil means "no discovery client attached"

	log *logging.Entry
}

// New constructs a Facade. client may be nil.
func New(st *state.ProxyState, res *resolver.Resolver, client Client) *Facade {
	return &Facade{
		state:    st,
		resolver: res,
		client:   client,
		log:      logging.WithField("component", "demand-facade"),
	}
}

// fetch implements the three-step shape shared by every fetch method:
// local lookup, on-demand fetch and await on miss, re-read.
func fetch[T any](ctx context.Context, f *Facade, key string, lookup func() (T, bool)) (T, bool) {
	if v, ok := lookup(); ok {
		return v, true
	}
	if f.client == nil {
		var zero T
		return zero, false
	}

	ch, err := f.client.Demand(ctx, ResourceTypeAddress, key)
	if err != nil {
		f.log.WithError(err).Warnf("on-demand fetch failed for %s", key)
		var zero T
		return zero, false
	}

	select {
	case <-ch:
	case <-ctx.Done():
		var zero T
		return zero, false
	}

	return lookup()
}

// FetchWorkloadByUID resolves a workload by uid via the fetch path.
func (f *Facade) FetchWorkloadByUID(ctx context.Context, uid string) (state.Workload, bool) {
	return fetch(ctx, f, uid, func() (state.Workload, bool) {
		return f.state.FindWorkloadByUID(uid)
	})
}

// FetchAddress resolves a NetworkAddress via the fetch path.
func (f *Facade) FetchAddress(ctx context.Context, addr state.NetworkAddress) (state.FoundAddress, bool) {
	return fetch(ctx, f, addr.String(), func() (state.FoundAddress, bool) {
		return f.state.FindAddress(addr)
	})
}

// FetchHostname resolves a NamespacedHostname via the fetch path.
func (f *Facade) FetchHostname(ctx context.Context, h state.NamespacedHostname) (state.FoundAddress, bool) {
	return fetch(ctx, f, h.String(), func() (state.FoundAddress, bool) {
		return f.state.FindHostname(h)
	})
}

// FetchDestination dispatches to FetchAddress or FetchHostname.
func (f *Facade) FetchDestination(ctx context.Context, dest state.Destination) (state.FoundAddress, bool) {
	switch {
	case dest.Address != nil:
		return f.FetchAddress(ctx, *dest.Address)
	case dest.Hostname != nil:
		return f.FetchHostname(ctx, *dest.Hostname)
	default:
		return state.FoundAddress{}, false
	}
}

// FetchUpstream resolves network:socketAddr to an Upstream via the fetch
// path.
func (f *Facade) FetchUpstream(ctx context.Context, network string, socketAddr state.SocketAddress) (state.Upstream, bool) {
	key := fmt.Sprintf("%s/%s", network, socketAddr)
	return fetch(ctx, f, key, func() (state.Upstream, bool) {
		return f.state.FindUpstream(network, socketAddr)
	})
}

// AssertRBAC resolves the destination workload via the fetch path and
// applies the three-stage authorization decision. Any failure mode --
// unknown destination, resolver error -- collapses to deny; this function
// never returns an error.
//
// The three-stage order is load-bearing and must not be reordered:
//  1. any Deny match -> deny
//  2. empty Allow set -> allow (default-allow)
//  3. any Allow match -> allow
//  4. else -> deny
func (f *Facade) AssertRBAC(ctx context.Context, conn state.Connection) bool {
	found, ok := f.FetchAddress(ctx, state.NetworkAddress{Network: conn.DestinationNetwork, Address: conn.DestinationIP})
	if !ok || found.Workload == nil {
		f.log.Debugf("assert_rbac: deny, unknown destination workload for %s", conn.DestinationIP)
		return false
	}
	w := *found.Workload

	keys := f.policyKeysFor(w)

	var allows, denies []state.Policy
	for _, key := range keys {
		p, ok := f.state.GetPolicy(key)
		if !ok {
			continue
		}
		switch p.Action {
		case state.ActionDeny:
			denies = append(denies, p)
		case state.ActionAllow:
			allows = append(allows, p)
		}
	}

	for _, p := range denies {
		if p.Matches(conn) {
			return false
		}
	}
	if len(allows) == 0 {
		return true
	}
	for _, p := range allows {
		if p.Matches(conn) {
			return true
		}
	}
	return false
}

// policyKeysFor gathers the policy keys applicable to w: every policy
// declared in w's own namespace, every policy declared in the global/root
// namespace (""), and w's directly attached policies.
func (f *Facade) policyKeysFor(w state.Workload) []state.PolicyKey {
	seen := make(map[state.PolicyKey]struct{})
	var keys []state.PolicyKey

	add := func(k state.PolicyKey) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, k := range f.state.GetPolicyKeysByNamespace("") {
		add(k)
	}
	for _, k := range f.state.GetPolicyKeysByNamespace(w.Namespace) {
		add(k)
	}
	for _, name := range w.AuthorizationPolicies {
		add(parsePolicyKey(w.Namespace, name))
	}
	return keys
}

// parsePolicyKey turns a policy reference attached to a workload -- either
// a bare name (scoped to the workload's own namespace) or a fully qualified
// "namespace/name" -- into a PolicyKey.
func parsePolicyKey(defaultNamespace, ref string) state.PolicyKey {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			return state.PolicyKey{Namespace: ref[:i], Name: ref[i+1:]}
		}
	}
	return state.PolicyKey{Namespace: defaultNamespace, Name: ref}
}

// LoadBalance picks an IP to dial for dst. Workload IPs win outright; a
// hostname-only workload is resolved through the DNS resolver.
func (f *Facade) LoadBalance(ctx context.Context, dst state.Workload) (netip.Addr, error) {
	if len(dst.WorkloadIPs) > 0 {
		return dst.WorkloadIPs[rand.Intn(len(dst.WorkloadIPs))], nil
	}
	if dst.Hostname == "" {
		return netip.Addr{}, state.ErrNoValidDestination
	}

	entry, ok := f.resolver.Resolve(ctx, dst.Hostname)
	if !ok {
		return netip.Addr{}, state.ErrNoResolvedAddresses
	}
	if len(entry.IPs) == 0 {
		return netip.Addr{}, state.ErrEmptyResolvedAddresses
	}
	return entry.IPs[rand.Intn(len(entry.IPs))], nil
}

// FetchWaypoint resolves the next hop when workload must be reached through
// a remote waypoint proxy. A workload-level waypoint always takes precedence
// over the waypoint declared by one of the workload's services; svcWaypoint
// is consulted only when workload itself has none. Returns (nil, nil) when
// neither is set -- that is not an error, just nothing to chain.
func (f *Facade) FetchWaypoint(ctx context.Context, workload state.Workload, workloadIP netip.Addr, svcWaypoint *state.GatewayAddress) (*state.Upstream, error) {
	wp := workload.Waypoint
	if wp == nil {
		wp = svcWaypoint
	}
	if wp == nil {
		return nil, nil
	}
	if wp.Destination.Address == nil {
		return nil, state.ErrUnsupportedFeature
	}

	addr := *wp.Destination.Address
	upstream, ok := f.FetchUpstream(ctx, addr.Network, state.SocketAddress{
		Network: addr.Network,
		Address: addr.Address,
		Port:    wp.HboneMtlsPort,
	})
	if !ok {
		return nil, state.ErrFindWaypointError
	}

	if upstream.Workload.GatewayAddress != nil {
		// Already set by a prior hop in the chain; never overwritten.
		return &upstream, nil
	}

	gateway := gatewaySocketFor(workload, upstream, workloadIP, wp.HboneMtlsPort)
	upstream.Workload.GatewayAddress = &gateway
	return &upstream, nil
}

// gatewaySocketFor mirrors the original's set_gateway_address: the branch is
// on the protocol of the waypoint's own workload (upstream.Workload, the
// result of fetch_upstream on the waypoint's address) -- not the protocol of
// the origin workload being routed through it. A TCP-speaking origin
// workload reached through an HBONE-speaking waypoint is the common case,
// and must still take the HBONE branch. workload is only consulted here for
// its network label in the TCP branch, where the gateway socket is the
// origin workload's own address.
func gatewaySocketFor(workload state.Workload, upstream state.Upstream, workloadIP netip.Addr, hboneMtlsPort uint16) state.SocketAddress {
	switch upstream.Workload.Protocol {
	case state.ProtocolHBONE:
		ip := workloadIP
		if len(upstream.Workload.WorkloadIPs) > 0 {
			ip = upstream.Workload.WorkloadIPs[0]
		}
		return state.SocketAddress{Network: upstream.Workload.Network, Address: ip, Port: hboneMtlsPort}
	default:
		return state.SocketAddress{Network: workload.Network, Address: workloadIP, Port: upstream.Port}
	}
}
