package resolver

import (
	"context"
	"net/netip"
	"sync"
	"time"

	logging "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshRate is used when a lookup returns no records at all.
const DefaultRefreshRate = 60 * time.Second

// ResolvedDNS is a cache entry: the resolved IP set as of InitialQuery, and
// the TTL (RefreshRate) after which it should be treated as stale.
type ResolvedDNS struct {
	Hostname     string
	IPs          []netip.Addr
	InitialQuery time.Time
	RefreshRate  time.Duration
}

func (r ResolvedDNS) expired(now time.Time) bool {
	return now.Sub(r.InitialQuery) >= r.RefreshRate
}

// Resolver is the single-flight, TTL-cached hostname resolver (component E).
// At most one lookup is ever in flight per hostname: concurrent callers for
// the same hostname share the one resolver call and its result, via
// golang.org/x/sync/singleflight -- the same leader/waiter contract the
// spec describes, built on the ecosystem primitive purpose-built for it
// rather than hand-rolled notify-channel bookkeeping.
type Resolver struct {
	lookup Lookup
	log    *logging.Entry

	mu       sync.RWMutex
	resolved map[string]ResolvedDNS

	group singleflight.Group

	now func() time.Time
}

// New constructs a Resolver backed by lookup.
func New(lookup Lookup) *Resolver {
	return &Resolver{
		lookup:   lookup,
		log:      logging.WithField("component", "dns-resolver"),
		resolved: make(map[string]ResolvedDNS),
		now:      time.Now,
	}
}

// Resolve returns the cached resolution for host if it is fresh. Otherwise
// it performs (or joins an in-flight) lookup, waits for it to complete, and
// re-reads the cache -- including on the waiter path, since the entry may
// have failed to populate if the leader's lookup errored.
func (r *Resolver) Resolve(ctx context.Context, host string) (ResolvedDNS, bool) {
	if entry, ok := r.cacheHit(host); ok {
		return entry, true
	}

	// singleflight.Do makes every concurrent caller for this host join the
	// one in-flight call; the first caller to arrive is the leader, the
	// rest are release together when it returns.
	_, _, _ = r.group.Do(host, func() (interface{}, error) {
		r.resolveOnce(ctx, host)
		return nil, nil
	})

	return r.cacheHit(host)
}

func (r *Resolver) cacheHit(host string) (ResolvedDNS, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.resolved[host]
	if !ok || entry.expired(r.now()) {
		return ResolvedDNS{}, false
	}
	return entry, true
}

// resolveOnce performs the actual upstream lookup and installs the result.
// A lookup error is logged as a warning and leaves any existing cache entry
// untouched -- callers observe the miss on their post-wake re-read.
func (r *Resolver) resolveOnce(ctx context.Context, host string) {
	records, err := r.lookup.LookupHost(ctx, host)
	if err != nil {
		r.log.WithError(err).Warnf("dns lookup failed for %s", host)
		return
	}

	ips := make([]netip.Addr, 0, len(records))
	refresh := DefaultRefreshRate
	for i, rec := range records {
		ips = append(ips, rec.IP)
		if i == 0 {
			refresh = rec.TTL
			continue
		}
		if rec.TTL < refresh {
			refresh = rec.TTL
		}
	}

	entry := ResolvedDNS{
		Hostname:     host,
		IPs:          ips,
		InitialQuery: r.now(),
		RefreshRate:  refresh,
	}

	r.mu.Lock()
	r.resolved[host] = entry
	r.mu.Unlock()
}
