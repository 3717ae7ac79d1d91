package state

// policyStore is the C component: authorization policies indexed by key and
// by namespace.
type policyStore struct {
	byKey map[PolicyKey]Policy
	// byNamespace maps a namespace ("" for global/root) to the set of keys
	// declared in it.
	byNamespace map[string]map[PolicyKey]struct{}
}

func newPolicyStore() *policyStore {
	return &policyStore{
		byKey:       make(map[PolicyKey]Policy),
		byNamespace: make(map[string]map[PolicyKey]struct{}),
	}
}

func (s *policyStore) insert(p Policy) {
	s.remove(p.Key)
	s.byKey[p.Key] = p.Clone()
	set, ok := s.byNamespace[p.Key.Namespace]
	if !ok {
		set = make(map[PolicyKey]struct{})
		s.byNamespace[p.Key.Namespace] = set
	}
	set[p.Key] = struct{}{}
}

func (s *policyStore) remove(key PolicyKey) {
	prior, ok := s.byKey[key]
	if !ok {
		return
	}
	delete(s.byKey, key)
	if set, ok := s.byNamespace[prior.Key.Namespace]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(s.byNamespace, prior.Key.Namespace)
		}
	}
}

func (s *policyStore) get(key PolicyKey) (Policy, bool) {
	p, ok := s.byKey[key]
	if !ok {
		return Policy{}, false
	}
	return p.Clone(), true
}

func (s *policyStore) getByNamespace(ns string) []PolicyKey {
	set := s.byNamespace[ns]
	out := make([]PolicyKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
