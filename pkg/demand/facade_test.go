package demand

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/zerotrustmesh/ztunnel-state/pkg/resolver"
	"github.com/zerotrustmesh/ztunnel-state/pkg/state"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("invalid test ip %q: %s", s, err)
	}
	return a
}

type staticLookup struct {
	records []resolver.Record
}

func (s staticLookup) LookupHost(ctx context.Context, host string) ([]resolver.Record, error) {
	return s.records, nil
}

func newFacade(st *state.ProxyState, client Client) *Facade {
	return New(st, resolver.New(staticLookup{}), client)
}

func TestAssertRBACDenyWins(t *testing.T) {
	st := state.New()
	ip := mustAddr(t, "10.0.0.1")
	st.ApplyWorkload(state.Workload{
		UID:                   "w1",
		Namespace:             "ns",
		WorkloadIPs:           []netip.Addr{ip},
		AuthorizationPolicies: []string{"allow1", "deny1"},
	})
	conn := state.Connection{SourcePrincipal: "p", DestinationIP: ip}
	st.ApplyPolicy(state.Policy{
		Key:    state.PolicyKey{Namespace: "ns", Name: "allow1"},
		Action: state.ActionAllow,
		Rules:  []state.Rule{{SourcePrincipals: []string{"p"}}},
	})
	st.ApplyPolicy(state.Policy{
		Key:    state.PolicyKey{Namespace: "ns", Name: "deny1"},
		Action: state.ActionDeny,
		Rules:  []state.Rule{{SourcePrincipals: []string{"p"}}},
	})

	f := newFacade(st, nil)
	if f.AssertRBAC(context.Background(), conn) {
		t.Fatalf("expected deny to win over allow")
	}
}

func TestAssertRBACDefaultAllow(t *testing.T) {
	st := state.New()
	ip := mustAddr(t, "10.0.0.1")
	st.ApplyWorkload(state.Workload{UID: "w1", Namespace: "ns", WorkloadIPs: []netip.Addr{ip}})
	conn := state.Connection{SourcePrincipal: "p", DestinationIP: ip}

	f := newFacade(st, nil)
	if !f.AssertRBAC(context.Background(), conn) {
		t.Fatalf("expected default-allow with no allow policies and no deny match")
	}
}

func TestAssertRBACUnknownDestinationDenies(t *testing.T) {
	st := state.New()
	f := newFacade(st, nil)
	conn := state.Connection{DestinationIP: mustAddr(t, "10.0.0.9")}
	if f.AssertRBAC(context.Background(), conn) {
		t.Fatalf("expected deny on unknown destination")
	}
}

func TestAssertRBACAllowRequiresMatch(t *testing.T) {
	st := state.New()
	ip := mustAddr(t, "10.0.0.1")
	st.ApplyWorkload(state.Workload{UID: "w1", Namespace: "ns", WorkloadIPs: []netip.Addr{ip}})
	st.ApplyPolicy(state.Policy{
		Key:    state.PolicyKey{Namespace: "ns", Name: "allow1"},
		Action: state.ActionAllow,
		Rules:  []state.Rule{{SourcePrincipals: []string{"someone-else"}}},
	})

	f := newFacade(st, nil)
	conn := state.Connection{SourcePrincipal: "p", DestinationIP: ip}
	if f.AssertRBAC(context.Background(), conn) {
		t.Fatalf("expected deny: allow set non-empty but nothing matches")
	}
}

func TestFetchAddressOnDemand(t *testing.T) {
	st := state.New()
	ip := mustAddr(t, "10.0.0.1")
	client := newFakeClient()

	client.onDemand = func(key string) {
		st.ApplyWorkload(state.Workload{UID: "w1", WorkloadIPs: []netip.Addr{ip}})
		client.deliver(key)
	}

	f := newFacade(st, client)
	found, ok := f.FetchAddress(context.Background(), state.NetworkAddress{Address: ip})
	if !ok || found.Workload == nil || found.Workload.UID != "w1" {
		t.Fatalf("expected on-demand fetch to resolve, got %+v ok=%v", found, ok)
	}
	if n := client.demandCount(ip.String()); n != 1 {
		t.Fatalf("expected exactly one demand, got %d", n)
	}
}

func TestFetchAddressNoClientIsFinal(t *testing.T) {
	st := state.New()
	f := newFacade(st, nil)
	_, ok := f.FetchAddress(context.Background(), state.NetworkAddress{Address: mustAddr(t, "10.0.0.1")})
	if ok {
		t.Fatalf("expected miss to stay a miss with no discovery client attached")
	}
}

func TestLoadBalanceNoValidDestination(t *testing.T) {
	f := newFacade(state.New(), nil)
	_, err := f.LoadBalance(context.Background(), state.Workload{})
	if err != state.ErrNoValidDestination {
		t.Fatalf("expected ErrNoValidDestination, got %v", err)
	}
}

func TestLoadBalanceEmptyResolvedAddresses(t *testing.T) {
	f := New(state.New(), resolver.New(staticLookup{records: nil}), nil)
	w := state.Workload{Hostname: "foo.bar"}
	// prime the cache with an empty resolution
	if _, ok := f.resolver.Resolve(context.Background(), "foo.bar"); !ok {
		t.Fatalf("expected resolver hit with empty records")
	}
	_, err := f.LoadBalance(context.Background(), w)
	if err != state.ErrEmptyResolvedAddresses {
		t.Fatalf("expected ErrEmptyResolvedAddresses, got %v", err)
	}
}

func TestLoadBalanceResolvesHostname(t *testing.T) {
	ip := mustAddr(t, "5.6.7.8")
	f := New(state.New(), resolver.New(staticLookup{records: []resolver.Record{{IP: ip, TTL: time.Second}}}), nil)
	got, err := f.LoadBalance(context.Background(), state.Workload{Hostname: "foo.bar"})
	if err != nil || got != ip {
		t.Fatalf("expected resolved ip %s, got %s err=%v", ip, got, err)
	}
}

// TestFetchWaypointHBONE covers the common real case: an HBONE-speaking
// waypoint proxy (the upstream resolved from the waypoint's own address).
// The gateway branch must key off the waypoint workload's own protocol, not
// the origin workload's -- set here on the "waypoint" workload, not on w.
func TestFetchWaypointHBONE(t *testing.T) {
	st := state.New()
	waypointIP := mustAddr(t, "10.0.0.1")
	st.ApplyWorkload(state.Workload{UID: "waypoint", Protocol: state.ProtocolHBONE, WorkloadIPs: []netip.Addr{waypointIP}})

	w := state.Workload{
		UID: "w1",
		Waypoint: &state.GatewayAddress{
			Destination:   state.AddressDestination(state.NetworkAddress{Address: waypointIP}),
			HboneMtlsPort: 15008,
		},
	}

	f := newFacade(st, nil)
	up, err := f.FetchWaypoint(context.Background(), w, mustAddr(t, "10.1.1.1"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if up == nil || up.Workload.GatewayAddress == nil {
		t.Fatalf("expected gateway address to be set")
	}
	if up.Workload.GatewayAddress.Address != waypointIP || up.Workload.GatewayAddress.Port != 15008 {
		t.Fatalf("unexpected gateway address: %+v", up.Workload.GatewayAddress)
	}
}

// TestFetchWaypointTCPOriginThroughHBONEWaypoint is the companion to
// TestFetchWaypointHBONE: a plain TCP origin workload routed through an
// HBONE-speaking waypoint must still take the HBONE branch, since the
// branch depends on the waypoint's protocol, not the origin's.
func TestFetchWaypointTCPOriginThroughHBONEWaypoint(t *testing.T) {
	st := state.New()
	waypointIP := mustAddr(t, "10.0.0.1")
	st.ApplyWorkload(state.Workload{UID: "waypoint", Protocol: state.ProtocolHBONE, WorkloadIPs: []netip.Addr{waypointIP}})

	w := state.Workload{
		UID:      "w1",
		Protocol: state.ProtocolTCP,
		Waypoint: &state.GatewayAddress{
			Destination:   state.AddressDestination(state.NetworkAddress{Address: waypointIP}),
			HboneMtlsPort: 15008,
		},
	}

	f := newFacade(st, nil)
	up, err := f.FetchWaypoint(context.Background(), w, mustAddr(t, "10.1.1.1"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if up == nil || up.Workload.GatewayAddress == nil {
		t.Fatalf("expected gateway address to be set")
	}
	if up.Workload.GatewayAddress.Address != waypointIP || up.Workload.GatewayAddress.Port != 15008 {
		t.Fatalf("expected hbone branch (waypoint's own address:mtls port) despite tcp origin, got %+v", up.Workload.GatewayAddress)
	}
}

func TestFetchWaypointNone(t *testing.T) {
	f := newFacade(state.New(), nil)
	up, err := f.FetchWaypoint(context.Background(), state.Workload{}, netip.Addr{}, nil)
	if err != nil || up != nil {
		t.Fatalf("expected (nil, nil) for workload with no waypoint, got %+v %v", up, err)
	}
}

func TestFetchWaypointHostnameUnsupported(t *testing.T) {
	f := newFacade(state.New(), nil)
	w := state.Workload{
		Waypoint: &state.GatewayAddress{
			Destination:   state.HostnameDestination(state.NamespacedHostname{Hostname: "waypoint.example"}),
			HboneMtlsPort: 15008,
		},
	}
	_, err := f.FetchWaypoint(context.Background(), w, netip.Addr{}, nil)
	if err != state.ErrUnsupportedFeature {
		t.Fatalf("expected ErrUnsupportedFeature, got %v", err)
	}
}

func TestFetchWaypointNotFound(t *testing.T) {
	f := newFacade(state.New(), nil)
	w := state.Workload{
		Waypoint: &state.GatewayAddress{
			Destination:   state.AddressDestination(state.NetworkAddress{Address: mustAddr(t, "10.0.0.9")}),
			HboneMtlsPort: 15008,
		},
	}
	_, err := f.FetchWaypoint(context.Background(), w, netip.Addr{}, nil)
	if err != state.ErrFindWaypointError {
		t.Fatalf("expected ErrFindWaypointError, got %v", err)
	}
}

func TestFetchWaypointServiceWaypointUsedWhenWorkloadHasNone(t *testing.T) {
	st := state.New()
	waypointIP := mustAddr(t, "10.0.0.1")
	st.ApplyWorkload(state.Workload{UID: "waypoint", Protocol: state.ProtocolHBONE, WorkloadIPs: []netip.Addr{waypointIP}})

	w := state.Workload{UID: "w1"}
	svcWaypoint := &state.GatewayAddress{
		Destination:   state.AddressDestination(state.NetworkAddress{Address: waypointIP}),
		HboneMtlsPort: 15008,
	}

	f := newFacade(st, nil)
	up, err := f.FetchWaypoint(context.Background(), w, mustAddr(t, "10.1.1.1"), svcWaypoint)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if up == nil || up.Workload.GatewayAddress == nil || up.Workload.GatewayAddress.Address != waypointIP {
		t.Fatalf("expected service waypoint to be used as fallback, got %+v", up)
	}
}
