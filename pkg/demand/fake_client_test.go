package demand

import (
	"context"
	"sync"
)

// fakeClient is a Client test double grounded on the teacher's mock
// listener pattern (controller/destination/test_helper.go): it records
// every demand it receives and lets the test decide when (and whether) to
// resolve it.
type fakeClient struct {
	mu       sync.Mutex
	demands  []string
	onDemand func(key string) // invoked synchronously from Demand, may call deliver
	pending  map[string]chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{pending: make(map[string]chan struct{})}
}

func (f *fakeClient) Demand(ctx context.Context, resourceType, key string) (<-chan struct{}, error) {
	f.mu.Lock()
	f.demands = append(f.demands, key)
	ch, ok := f.pending[key]
	if !ok {
		ch = make(chan struct{})
		f.pending[key] = ch
	}
	onDemand := f.onDemand
	f.mu.Unlock()

	if onDemand != nil {
		onDemand(key)
	}
	return ch, nil
}

func (f *fakeClient) deliver(key string) {
	f.mu.Lock()
	ch, ok := f.pending[key]
	if !ok {
		ch = make(chan struct{})
		f.pending[key] = ch
	}
	f.mu.Unlock()
	close(ch)
}

func (f *fakeClient) demandCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.demands {
		if d == key {
			n++
		}
	}
	return n
}
