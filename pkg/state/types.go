// Package state holds the authoritative in-memory view of the mesh: the
// workloads, services and authorization policies delivered by the discovery
// server, indexed for the lookups the connection path needs on every new
// flow.
package state

import (
	"fmt"
	"net/netip"
)

// NetworkAddress pairs a network label with an IP. Two addresses are equal
// only when both fields match exactly -- a workload in "network-a" and one
// in "network-b" sharing an IP are distinct entities.
type NetworkAddress struct {
	Network string     `json:"network,omitempty"`
	Address netip.Addr `json:"address"`
}

func (n NetworkAddress) String() string {
	if n.Network == "" {
		return n.Address.String()
	}
	return fmt.Sprintf("%s/%s", n.Network, n.Address)
}

// SocketAddress is a NetworkAddress plus a port, used wherever a flow needs
// an actual destination socket (gateway addresses, waypoint hops).
type SocketAddress struct {
	Network string
	Address netip.Addr
	Port    uint16
}

func (s SocketAddress) String() string {
	if s.Network == "" {
		return fmt.Sprintf("%s:%d", s.Address, s.Port)
	}
	return fmt.Sprintf("%s/%s:%d", s.Network, s.Address, s.Port)
}

// Protocol is the transport a workload expects inbound traffic over.
type Protocol int

const (
	// ProtocolTCP is a plain, untunneled TCP workload.
	ProtocolTCP Protocol = iota
	// ProtocolHBONE is a workload that must be dialed over an HBONE tunnel.
	ProtocolHBONE
)

func (p Protocol) String() string {
	if p == ProtocolHBONE {
		return "HBONE"
	}
	return "TCP"
}

// GatewayAddress names a remote proxy -- a waypoint -- that traffic to (or
// from) a workload must be tunneled through. Destination is either a direct
// address or a hostname; hostname waypoints are not supported by
// fetch_waypoint (ErrUnsupportedFeature).
type GatewayAddress struct {
	Destination   Destination
	HboneMtlsPort uint16
}

// NamespacedHostname is a hostname scoped to the namespace that declared it
// (used for services; workload hostnames are global, see Workload.Hostname).
type NamespacedHostname struct {
	Namespace string
	Hostname  string
}

func (n NamespacedHostname) String() string {
	return fmt.Sprintf("%s/%s", n.Namespace, n.Hostname)
}

// Workload is a uniquely identified, routable endpoint.
type Workload struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`

	WorkloadIPs []netip.Addr `json:"workloadIps,omitempty"`
	// Hostname is set for hostname-only workloads that have no IP of their
	// own yet (e.g. a VM registered by DNS name). A workload must have
	// either at least one IP or a Hostname.
	Hostname string `json:"hostname,omitempty"`

	ServiceAccount string `json:"serviceAccount,omitempty"`

	// GatewayAddress is set by fetch_waypoint on the waypoint upstream's
	// workload it returns: the socket the caller should actually dial (the
	// waypoint's own address and HBONE mTLS port for an HBONE waypoint, or
	// the origin workload's address and the upstream port for a plain TCP
	// one). Never overwritten once set -- a later hop in the chain must not
	// clobber an earlier one's resolution.
	GatewayAddress *SocketAddress `json:"gatewayAddress,omitempty"`

	Waypoint *GatewayAddress `json:"waypoint,omitempty"`

	Protocol Protocol `json:"protocol"`

	// AuthorizationPolicies are policy references attached directly to this
	// workload, either "namespace/name" or a bare name in the workload's own
	// namespace, consulted by assert_rbac in addition to its namespace and
	// the global root namespace.
	AuthorizationPolicies []string `json:"authorizationPolicies,omitempty"`

	Network string `json:"network,omitempty"`
}

// Identity returns the SPIFFE-shaped identity string used for SAN
// construction and RBAC principal matching. The exact certificate chain
// backing this identity is provisioned outside this module.
func (w Workload) Identity() string {
	if w.ServiceAccount == "" {
		return fmt.Sprintf("cluster.local/ns/%s/sa/default", w.Namespace)
	}
	return fmt.Sprintf("cluster.local/ns/%s/sa/%s", w.Namespace, w.ServiceAccount)
}

// HasRoute reports whether the workload can be dialed at all: it needs
// either a direct IP or a hostname to resolve one.
func (w Workload) HasRoute() bool {
	return len(w.WorkloadIPs) > 0 || w.Hostname != ""
}

func (w Workload) Clone() Workload {
	out := w
	out.WorkloadIPs = append([]netip.Addr(nil), w.WorkloadIPs...)
	out.AuthorizationPolicies = append([]string(nil), w.AuthorizationPolicies...)
	if w.GatewayAddress != nil {
		ga := *w.GatewayAddress
		out.GatewayAddress = &ga
	}
	if w.Waypoint != nil {
		wp := *w.Waypoint
		out.Waypoint = &wp
	}
	return out
}

// Endpoint is a service backend: a reference to a workload by UID, plus an
// optional per-port override. Endpoints store UIDs rather than Workload
// values so that service and workload lifecycles never cycle back into each
// other; the workload table is consulted at query time. A dangling
// reference (workload not yet seen, or already removed) is tolerated: when
// find_upstream picks it, the lookup reports not found rather than an error,
// and the service's other endpoints are not tried.
type Endpoint struct {
	WorkloadUID string
	// PortOverride maps a service port to a target port for this endpoint
	// specifically. Absent entries fall back to the service's declared
	// target port.
	PortOverride map[uint16]uint16
}

// Service is a logical, VIP-addressable aggregate of endpoints.
type Service struct {
	Hostname  NamespacedHostname
	VIPs      []NetworkAddress
	Ports     map[uint16]uint16 // declared service port -> target port
	Endpoints map[string]Endpoint
	// SubjectAltNames are identities accepted for mTLS verification of any
	// endpoint reached through this service's VIP.
	SubjectAltNames []string
	// Waypoint is the service-level waypoint. A workload-level waypoint
	// (Workload.Waypoint) always takes precedence when both are present.
	Waypoint *GatewayAddress
}

func (s Service) Clone() Service {
	out := s
	out.VIPs = append([]NetworkAddress(nil), s.VIPs...)
	out.SubjectAltNames = append([]string(nil), s.SubjectAltNames...)
	out.Ports = make(map[uint16]uint16, len(s.Ports))
	for k, v := range s.Ports {
		out.Ports[k] = v
	}
	out.Endpoints = make(map[string]Endpoint, len(s.Endpoints))
	for k, e := range s.Endpoints {
		ec := e
		if e.PortOverride != nil {
			ec.PortOverride = make(map[uint16]uint16, len(e.PortOverride))
			for pk, pv := range e.PortOverride {
				ec.PortOverride[pk] = pv
			}
		}
		out.Endpoints[k] = ec
	}
	if s.Waypoint != nil {
		wp := *s.Waypoint
		out.Waypoint = &wp
	}
	return out
}

// PolicyKey identifies a policy by its namespace and name. An empty
// Namespace denotes the global/root namespace, whose policies apply to
// every workload.
type PolicyKey struct {
	Namespace string
	Name      string
}

func (k PolicyKey) String() string {
	if k.Namespace == "" {
		return k.Name
	}
	return fmt.Sprintf("%s/%s", k.Namespace, k.Name)
}

// Action is the effect of a matching policy.
type Action int

const (
	ActionAllow Action = iota
	ActionDeny
)

// Rule is one clause of a policy's matcher. A Connection satisfies a Rule
// when every non-empty field of the rule matches; a Policy matches a
// Connection when any one of its Rules matches (OR of ANDs, the shape
// Istio-style authorization policies use).
type Rule struct {
	SourcePrincipals      []string
	SourceIPBlocks        []netip.Prefix
	DestinationPrincipals []string
	DestinationIPBlocks   []netip.Prefix
	DestinationPorts      []uint16
}

// Policy is an authorization rule: an action plus a matcher over
// Connections.
type Policy struct {
	Key       PolicyKey
	Namespace string
	Action    Action
	Rules     []Rule
}

func (p Policy) Clone() Policy {
	out := p
	out.Rules = append([]Rule(nil), p.Rules...)
	return out
}

// Connection describes a single authenticated flow, as presented to
// assert_rbac.
type Connection struct {
	SourcePrincipal      string
	DestinationPrincipal string
	SourceIP             netip.Addr
	DestinationIP        netip.Addr
	DestinationPort      uint16
	DestinationNetwork   string
}

// Destination is the tagged variant a caller supplies to find_destination:
// either a concrete address or a namespaced hostname. Exactly one of
// Address/Hostname is set.
type Destination struct {
	Address  *NetworkAddress
	Hostname *NamespacedHostname
}

func AddressDestination(a NetworkAddress) Destination      { return Destination{Address: &a} }
func HostnameDestination(h NamespacedHostname) Destination { return Destination{Hostname: &h} }

func (d Destination) String() string {
	switch {
	case d.Address != nil:
		return d.Address.String()
	case d.Hostname != nil:
		return d.Hostname.String()
	default:
		return "<empty destination>"
	}
}

// FoundAddress is the tagged variant returned by find_address /
// find_hostname: either a Workload or a Service. Exactly one of
// Workload/Service is set.
type FoundAddress struct {
	Workload *Workload
	Service  *Service
}

// Upstream is the resolved target of a flow.
type Upstream struct {
	Workload Workload
	Port     uint16
	// SANs is empty for a workload-direct upstream, and copied from the
	// service's SubjectAltNames for a VIP-based one.
	SANs []string
	// DestinationService describes the service used to resolve this
	// upstream, if any.
	DestinationService *Service
}

// ResolvedDNS is a plain-integer form of a DNS resolver cache entry. The
// resolver package keeps its own cache entry type (resolver.ResolvedDNS);
// nothing in this module builds or reads this one.
type ResolvedDNS struct {
	Hostname     string
	IPs          []netip.Addr
	InitialQuery int64 // unix nanos
	RefreshRate  int64 // nanoseconds
}

// Snapshot is the serializable view of the proxy state for the admin/debug
// endpoint: all three tables flattened into one document. Resolver caches
// and demand-client handles are deliberately excluded.
type Snapshot struct {
	Workloads []Workload `json:"workloads"`
	Services  []Service  `json:"services"`
	Policies  []Policy   `json:"policies"`
}
