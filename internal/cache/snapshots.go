package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"RainLens/internal/identity"
	"RainLens/internal/observability"
	"RainLens/internal/query"
)

type key struct {
	view     query.View
	currency identity.Pubkey
}

type entry struct {
	snap    *query.Snapshot
	expires time.Time
}

// Snapshots keeps the most recent aggregate per (view, currency) for a
// fixed TTL. Safe for concurrent use.
type Snapshots struct {
	lru     *lru.Cache
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.Metrics
}

// NewSnapshots returns a cache holding at most size snapshots, each valid
// for ttl after insertion.
func NewSnapshots(size int, ttl time.Duration, metrics *observability.Metrics) (*Snapshots, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	return &Snapshots{
		lru:     c,
		ttl:     ttl,
		now:     time.Now,
		metrics: metrics,
	}, nil
}

// WithClock replaces the clock used for expiry.
func (s *Snapshots) WithClock(now func() time.Time) *Snapshots {
	s.now = now
	return s
}

// Get returns the cached snapshot for (view, currency) unless it is absent
// or expired. Expired entries are evicted on read.
func (s *Snapshots) Get(view query.View, currency identity.Pubkey) (*query.Snapshot, bool) {
	k := key{view: view, currency: currency}

	v, ok := s.lru.Get(k)
	if !ok {
		s.metrics.ObserveCache(string(view), false)
		return nil, false
	}

	e := v.(entry)
	if !s.now().Before(e.expires) {
		s.lru.Remove(k)
		s.metrics.ObserveCache(string(view), false)
		return nil, false
	}

	s.metrics.ObserveCache(string(view), true)
	return e.snap, true
}

// Put stores snap under its own view and currency.
func (s *Snapshots) Put(snap *query.Snapshot) {
	s.lru.Add(key{view: snap.View, currency: snap.Currency}, entry{
		snap:    snap,
		expires: s.now().Add(s.ttl),
	})
}

// Len returns the number of cached snapshots, expired ones included.
func (s *Snapshots) Len() int {
	return s.lru.Len()
}
