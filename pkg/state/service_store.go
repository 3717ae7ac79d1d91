package state

import "math/rand"

// serviceStore is the B component: an indexed set of services keyed by VIP
// and by namespaced hostname, with a back-index from workload UID to the
// services that reference it.
type serviceStore struct {
	byHostname map[NamespacedHostname]string // -> id
	byVIP      map[NetworkAddress]string     // -> id
	byID       map[string]Service

	// byWorkload is the back-reference used by get_by_workload and kept
	// consistent by ProxyState's write path whenever a workload or service
	// endpoint set changes.
	byWorkload map[string]map[string]struct{} // workload uid -> set of service ids
}

func newServiceStore() *serviceStore {
	return &serviceStore{
		byHostname: make(map[NamespacedHostname]string),
		byVIP:      make(map[NetworkAddress]string),
		byID:       make(map[string]Service),
		byWorkload: make(map[string]map[string]struct{}),
	}
}

func serviceID(s Service) string {
	return s.Hostname.String()
}

// insert indexes s by each of its VIPs and by its namespaced hostname,
// replacing any prior entry with the same hostname identity.
func (s *serviceStore) insert(svc Service) {
	id := serviceID(svc)
	s.remove(svc.Hostname)

	s.byID[id] = svc.Clone()
	s.byHostname[svc.Hostname] = id
	for _, vip := range svc.VIPs {
		s.byVIP[vip] = id
	}
	for _, ep := range svc.Endpoints {
		s.linkWorkload(ep.WorkloadUID, id)
	}
}

func (s *serviceStore) remove(hostname NamespacedHostname) {
	id, ok := s.byHostname[hostname]
	if !ok {
		return
	}
	prior := s.byID[id]

	delete(s.byID, id)
	if s.byHostname[hostname] == id {
		delete(s.byHostname, hostname)
	}
	for _, vip := range prior.VIPs {
		if s.byVIP[vip] == id {
			delete(s.byVIP, vip)
		}
	}
	for _, ep := range prior.Endpoints {
		s.unlinkWorkload(ep.WorkloadUID, id)
	}
}

func (s *serviceStore) linkWorkload(uid, serviceID string) {
	if uid == "" {
		return
	}
	set, ok := s.byWorkload[uid]
	if !ok {
		set = make(map[string]struct{})
		s.byWorkload[uid] = set
	}
	set[serviceID] = struct{}{}
}

func (s *serviceStore) unlinkWorkload(uid, serviceID string) {
	set, ok := s.byWorkload[uid]
	if !ok {
		return
	}
	delete(set, serviceID)
	if len(set) == 0 {
		delete(s.byWorkload, uid)
	}
}

// removeWorkloadReferences drops every endpoint across every service that
// names uid. Stale endpoint records (a workload uid not yet seen by the
// workload store) are tolerated at query time rather than eagerly pruned;
// this is called only when the workload is actually removed from the store,
// keeping the back-index accurate.
func (s *serviceStore) removeWorkloadReferences(uid string) {
	ids, ok := s.byWorkload[uid]
	if !ok {
		return
	}
	for id := range ids {
		svc, ok := s.byID[id]
		if !ok {
			continue
		}
		for key, ep := range svc.Endpoints {
			if ep.WorkloadUID == uid {
				delete(svc.Endpoints, key)
			}
		}
		s.byID[id] = svc
	}
	delete(s.byWorkload, uid)
}

func (s *serviceStore) getByVIP(addr NetworkAddress) (Service, bool) {
	id, ok := s.byVIP[addr]
	if !ok {
		return Service{}, false
	}
	svc, ok := s.byID[id]
	if !ok {
		return Service{}, false
	}
	return svc.Clone(), true
}

func (s *serviceStore) getByNamespacedHost(h NamespacedHostname) (Service, bool) {
	id, ok := s.byHostname[h]
	if !ok {
		return Service{}, false
	}
	svc, ok := s.byID[id]
	if !ok {
		return Service{}, false
	}
	return svc.Clone(), true
}

func (s *serviceStore) getByWorkload(uid string) []Service {
	ids := s.byWorkload[uid]
	out := make([]Service, 0, len(ids))
	for id := range ids {
		if svc, ok := s.byID[id]; ok {
			out = append(out, svc.Clone())
		}
	}
	return out
}

// selectEndpoint picks uniformly at random from svc's current endpoints.
// The caller is responsible for having verified the declared service port.
func selectEndpoint(svc Service) (Endpoint, bool) {
	if len(svc.Endpoints) == 0 {
		return Endpoint{}, false
	}
	keys := make([]string, 0, len(svc.Endpoints))
	for k := range svc.Endpoints {
		keys = append(keys, k)
	}
	return svc.Endpoints[keys[rand.Intn(len(keys))]], true
}

// targetPort resolves the port to dial for ep given the service's declared
// port mapping: the endpoint's per-port override wins when set.
func targetPort(svc Service, ep Endpoint, port uint16) (uint16, bool) {
	if override, ok := ep.PortOverride[port]; ok {
		return override, true
	}
	declared, ok := svc.Ports[port]
	return declared, ok
}
