package state

import (
	"sync"

	logging "github.com/sirupsen/logrus"
)

// ProxyState holds the workload, service and policy tables behind a single
// reader/writer lock. Reads (the connection path, via the demand facade)
// take the read side; each write-path method (ApplyWorkload, RemoveWorkload,
// ...) takes the write side once, so every single change, including all the
// index updates it makes, is atomic from any reader's perspective. A
// sequence of calls is not applied as one unit: readers can observe the
// state between two calls.
type ProxyState struct {
	sync.RWMutex

	workloads *workloadStore
	services  *serviceStore
	policies  *policyStore

	log *logging.Entry
}

// New constructs an empty ProxyState.
func New() *ProxyState {
	return &ProxyState{
		workloads: newWorkloadStore(),
		services:  newServiceStore(),
		policies:  newPolicyStore(),
		log:       logging.WithField("component", "proxy-state"),
	}
}

// --- write path: consumed by the discovery updater (out of scope; see spec) ---

// ApplyWorkload inserts or replaces a workload record.
func (p *ProxyState) ApplyWorkload(w Workload) {
	p.Lock()
	defer p.Unlock()
	p.workloads.insert(w)
}

// RemoveWorkload deletes a workload by uid, and drops every service endpoint
// that referenced it so the service back-index never points at a tombstone.
func (p *ProxyState) RemoveWorkload(uid string) {
	p.Lock()
	defer p.Unlock()
	p.workloads.removeUID(uid)
	p.services.removeWorkloadReferences(uid)
}

// ApplyService inserts or replaces a service record, refreshing its
// endpoint back-references.
func (p *ProxyState) ApplyService(s Service) {
	p.Lock()
	defer p.Unlock()
	p.services.insert(s)
}

// RemoveService deletes a service by its namespaced hostname.
func (p *ProxyState) RemoveService(h NamespacedHostname) {
	p.Lock()
	defer p.Unlock()
	p.services.remove(h)
}

// ApplyPolicy inserts or replaces an authorization policy.
func (p *ProxyState) ApplyPolicy(pol Policy) {
	p.Lock()
	defer p.Unlock()
	p.policies.insert(pol)
}

// RemovePolicy deletes an authorization policy by key.
func (p *ProxyState) RemovePolicy(key PolicyKey) {
	p.Lock()
	defer p.Unlock()
	p.policies.remove(key)
}

// --- read path ---

// FindWorkloadByUID returns the workload with the given uid, if present.
func (p *ProxyState) FindWorkloadByUID(uid string) (Workload, bool) {
	p.RLock()
	defer p.RUnlock()
	return p.workloads.findUID(uid)
}

// FindAddress consults workloads first, then services by VIP: workload IPs
// are more specific than VIPs, so a workload hit always wins.
func (p *ProxyState) FindAddress(addr NetworkAddress) (FoundAddress, bool) {
	p.RLock()
	defer p.RUnlock()
	if w, ok := p.workloads.findAddress(addr); ok {
		return FoundAddress{Workload: &w}, true
	}
	if s, ok := p.services.getByVIP(addr); ok {
		return FoundAddress{Service: &s}, true
	}
	return FoundAddress{}, false
}

// FindHostname consults services first (hostnames are usually service
// level), then falls back to the workload table's global hostname index.
func (p *ProxyState) FindHostname(h NamespacedHostname) (FoundAddress, bool) {
	p.RLock()
	defer p.RUnlock()
	if s, ok := p.services.getByNamespacedHost(h); ok {
		return FoundAddress{Service: &s}, true
	}
	if w, ok := p.workloads.findHostname(h.Hostname); ok {
		return FoundAddress{Workload: &w}, true
	}
	return FoundAddress{}, false
}

// FindDestination dispatches to FindAddress or FindHostname depending on the
// destination's tag.
func (p *ProxyState) FindDestination(dest Destination) (FoundAddress, bool) {
	switch {
	case dest.Address != nil:
		return p.FindAddress(*dest.Address)
	case dest.Hostname != nil:
		return p.FindHostname(*dest.Hostname)
	default:
		return FoundAddress{}, false
	}
}

// GetServicesByWorkload returns every service with an endpoint referencing
// w's uid.
func (p *ProxyState) GetServicesByWorkload(w Workload) []Service {
	p.RLock()
	defer p.RUnlock()
	return p.services.getByWorkload(w.UID)
}

// GetPolicy returns the policy with the given key, if present.
func (p *ProxyState) GetPolicy(key PolicyKey) (Policy, bool) {
	p.RLock()
	defer p.RUnlock()
	return p.policies.get(key)
}

// GetPolicyKeysByNamespace returns the keys of every policy declared in ns
// ("" for the global/root namespace).
func (p *ProxyState) GetPolicyKeysByNamespace(ns string) []PolicyKey {
	p.RLock()
	defer p.RUnlock()
	return p.policies.getByNamespace(ns)
}

// FindUpstream resolves network:socketAddr to an Upstream. If a service is
// found on the VIP, an endpoint is chosen at random and its workload is
// resolved; if no service matches but a workload does, the workload is used
// directly with no SANs. Returns false if neither matches, the service
// matched but the port is undeclared, or the chosen endpoint's workload
// cannot be resolved.
func (p *ProxyState) FindUpstream(network string, socketAddr SocketAddress) (Upstream, bool) {
	p.RLock()
	defer p.RUnlock()

	vip := NetworkAddress{Network: network, Address: socketAddr.Address}
	if svc, ok := p.services.getByVIP(vip); ok {
		return p.upstreamFromService(svc, socketAddr.Port)
	}

	if w, ok := p.workloads.findAddress(vip); ok {
		return Upstream{
			Workload: w,
			Port:     socketAddr.Port,
			SANs:     nil,
		}, true
	}

	return Upstream{}, false
}

func (p *ProxyState) upstreamFromService(svc Service, port uint16) (Upstream, bool) {
	if _, known := svc.Ports[port]; !known {
		p.log.Debugf("find_upstream: service %s has no declared port %d", svc.Hostname, port)
		return Upstream{}, false
	}

	ep, ok := selectEndpoint(svc)
	if !ok {
		return Upstream{}, false
	}

	effectivePort, ok := targetPort(svc, ep, port)
	if !ok {
		p.log.Debugf("find_upstream: endpoint in service %s has no usable target port for %d", svc.Hostname, port)
		return Upstream{}, false
	}

	w, ok := p.workloads.findUID(ep.WorkloadUID)
	if !ok {
		p.log.Debugf("find_upstream: endpoint workload %s not found (stale reference)", ep.WorkloadUID)
		return Upstream{}, false
	}

	svcCopy := svc
	return Upstream{
		Workload:           w,
		Port:               effectivePort,
		SANs:               append([]string(nil), svc.SubjectAltNames...),
		DestinationService: &svcCopy,
	}, true
}

// Snapshot flattens the three tables into a single serializable document
// for the admin/debug endpoint.
func (p *ProxyState) Snapshot() Snapshot {
	p.RLock()
	defer p.RUnlock()

	out := Snapshot{
		Workloads: make([]Workload, 0, len(p.workloads.byUID)),
		Services:  make([]Service, 0, len(p.services.byID)),
		Policies:  make([]Policy, 0, len(p.policies.byKey)),
	}
	for _, w := range p.workloads.byUID {
		out.Workloads = append(out.Workloads, w.Clone())
	}
	for _, s := range p.services.byID {
		out.Services = append(out.Services, s.Clone())
	}
	for _, pol := range p.policies.byKey {
		out.Policies = append(out.Policies, pol.Clone())
	}
	return out
}
