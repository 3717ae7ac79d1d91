package demand

import "context"

// ResourceTypeAddress is the single resource type identifier the core uses
// for on-demand address discovery (workloads and services share one type;
// there is no separate type for policies -- policies are never fetched
// on-demand, only consulted once a destination workload resolves).
const ResourceTypeAddress = "address"

// Client is the discovery demand interface (spec §6): it de-duplicates
// outstanding demands for the same key and resolves the returned channel
// when the server has delivered a record for key or declared it absent.
// Callers simply await their own channel; they do not need to de-duplicate
// anything themselves.
type Client interface {
	Demand(ctx context.Context, resourceType, key string) (<-chan struct{}, error)
}

// NoopClient is a Client that resolves every demand immediately without
// contacting anything -- the "no discovery client attached" mode spec.md
// §4.F calls out for tests and offline operation.
type NoopClient struct{}

func (NoopClient) Demand(ctx context.Context, resourceType, key string) (<-chan struct{}, error) {
	ch := make(chan struct{})
	close(ch)
	return ch, nil
}
