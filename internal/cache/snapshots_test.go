package cache_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"RainLens/internal/aggregate"
	"RainLens/internal/cache"
	"RainLens/internal/observability"
	"RainLens/internal/query"
	"RainLens/internal/testutil"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func snapshot(view query.View) *query.Snapshot {
	return query.NewSnapshot(view, testutil.Currency, time.Unix(1_700_000_000, 0),
		aggregate.Totals{testutil.Key(1): 10})
}

func TestSnapshots_HitThenExpire(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	c, err := cache.NewSnapshots(8, time.Minute, metrics)
	require.NoError(t, err)
	c.WithClock(clock.now)

	snap := snapshot(query.ViewSupply)
	c.Put(snap)

	got, ok := c.Get(query.ViewSupply, testutil.Currency)
	require.True(t, ok)
	require.Same(t, snap, got)

	clock.t = clock.t.Add(59 * time.Second)
	_, ok = c.Get(query.ViewSupply, testutil.Currency)
	require.True(t, ok)

	clock.t = clock.t.Add(time.Second)
	_, ok = c.Get(query.ViewSupply, testutil.Currency)
	require.False(t, ok)
	require.Equal(t, 0, c.Len())

	require.Equal(t, 2.0, promtest.ToFloat64(metrics.CacheHits.WithLabelValues("supply")))
	require.Equal(t, 1.0, promtest.ToFloat64(metrics.CacheMisses.WithLabelValues("supply")))
}

func TestSnapshots_KeyedByView(t *testing.T) {
	c, err := cache.NewSnapshots(8, time.Minute, nil)
	require.NoError(t, err)

	c.Put(snapshot(query.ViewSupply))

	_, ok := c.Get(query.ViewBorrow, testutil.Currency)
	require.False(t, ok)
	_, ok = c.Get(query.ViewSupply, testutil.Key(0xEE))
	require.False(t, ok)
}

func TestSnapshots_EvictsLeastRecent(t *testing.T) {
	c, err := cache.NewSnapshots(1, time.Minute, nil)
	require.NoError(t, err)

	c.Put(snapshot(query.ViewSupply))
	c.Put(snapshot(query.ViewBorrow))

	_, ok := c.Get(query.ViewSupply, testutil.Currency)
	require.False(t, ok)
	_, ok = c.Get(query.ViewBorrow, testutil.Currency)
	require.True(t, ok)
}

func TestNewSnapshots_RejectsNonPositiveSize(t *testing.T) {
	_, err := cache.NewSnapshots(0, time.Minute, nil)
	require.Error(t, err)
}
