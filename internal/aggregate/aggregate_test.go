package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/registry"
	"github.com/metal-toolbox/pms/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 12, 10, 12, 0, 0, 0, time.UTC)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func seed(t *testing.T) *registry.Registry {
	t.Helper()

	ctx := context.Background()
	reg := registry.New(store.NewMemStore(), logrus.New())

	for _, a := range []*model.Asset{
		{Tag: "A1", Name: "EWS1", Status: model.AssetStatusOperational},
		{Tag: "A2", Status: model.AssetStatusMaintenance},
		{Tag: "A3"},
	} {
		_, _, err := reg.Upsert(ctx, a)
		require.NoError(t, err)
	}

	for _, e := range []*model.EventLogRecord{
		{AssetTag: "A1", EventID: 41, Level: 1, Timestamp: testNow.Add(-time.Hour)},
		{AssetTag: "A2", EventID: 7000, Level: 2, Timestamp: testNow.Add(-2 * time.Hour)},
		{AssetTag: "A3", EventID: 41, Level: 1, Timestamp: testNow.Add(-48 * time.Hour)},
	} {
		require.NoError(t, reg.Events.Append(ctx, e))
	}

	return reg
}

func TestStats(t *testing.T) {
	c := &clock{now: testNow}
	svc := New(seed(t), logrus.New(), WithClock(c.Now))

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &Stats{
		TotalAssets:       3,
		OperationalAssets: 1,
		RecentLogs:        2,
		WarningAssets:     []model.AssetSummary{{ID: "A1", Name: "EWS1"}},
	}, stats)
}

func TestStatsWarningWindowElapses(t *testing.T) {
	c := &clock{now: testNow}
	svc := New(seed(t), logrus.New(), WithClock(c.Now))

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Len(t, stats.WarningAssets, 1)

	// no record was admitted, only the clock moved
	c.now = testNow.Add(24 * time.Hour)

	stats, err = svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats.WarningAssets)
	assert.Equal(t, 0, stats.RecentLogs)
	assert.Equal(t, 3, stats.TotalAssets)
}

func TestStatsWindows(t *testing.T) {
	c := &clock{now: testNow}
	svc := New(seed(t), logrus.New(), WithClock(c.Now), WithWindows(72*time.Hour, time.Hour+time.Minute))

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.RecentLogs)
	assert.Equal(t, []model.AssetSummary{{ID: "A1", Name: "EWS1"}, {ID: "A3", Name: "A3"}}, stats.WarningAssets)
}

func TestStatsCacheInvalidatedByAdmission(t *testing.T) {
	ctx := context.Background()
	reg := seed(t)
	c := &clock{now: testNow}
	cache := NewMemCache()
	svc := New(reg, logrus.New(), WithClock(c.Now), WithCache(cache))

	first, err := svc.Stats(ctx)
	require.NoError(t, err)

	// a caller mutating the returned value does not alter the cached one
	first.TotalAssets = 100

	second, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, second.TotalAssets)

	_, _, err = reg.Upsert(ctx, &model.Asset{Tag: "A4", Status: model.AssetStatusOperational})
	require.NoError(t, err)

	third, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, third.TotalAssets)
	assert.Equal(t, 2, third.OperationalAssets)
}

func TestStatsUncached(t *testing.T) {
	ctx := context.Background()
	cache := NewMemCache()
	svc := New(seed(t), logrus.New(), WithClock(func() time.Time { return testNow }), WithCache(cache), WithGranularity(0))

	_, err := svc.Stats(ctx)
	require.NoError(t, err)

	_, err = cache.Get(ctx, "pms:stats:0:0")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, cache.stats)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheFromClient(client, time.Minute)

	t.Cleanup(func() { _ = cache.Close() })

	_, err := cache.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	want := &Stats{TotalAssets: 2, WarningAssets: []model.AssetSummary{{ID: "A1", Name: "EWS1"}}}
	require.NoError(t, cache.Set(ctx, "k", want))

	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	mr.FastForward(2 * time.Minute)

	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, mr.Set("corrupt", "{"))

	_, err = cache.Get(ctx, "corrupt")
	assert.ErrorIs(t, err, ErrCache)
}

func TestStatsRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	svc := New(seed(t), logrus.New(), WithClock(func() time.Time { return testNow }), WithCache(NewRedisCacheFromClient(client, 0)))

	first, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 1)

	second, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// an unreachable cache does not fail the dashboard
	mr.Close()

	third, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestStatsRedisCacheScoped(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	now := func() time.Time { return testNow }

	newCache := func() Cache {
		return NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	}

	// a second memory store at the same revision as the seeded one, with other contents
	other := registry.New(store.NewMemStore(), logrus.New())
	for _, tag := range []string{"B1", "B2", "B3", "B4", "B5", "B6"} {
		_, _, err := other.Upsert(ctx, &model.Asset{Tag: tag, Status: model.AssetStatusOperational})
		require.NoError(t, err)
	}

	seeded := seed(t)

	for _, reg := range []*registry.Registry{seeded, other} {
		rev, err := reg.Repository().Revision(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(6), rev)
	}

	first, err := New(seeded, logrus.New(), WithClock(now), WithCache(newCache())).Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.TotalAssets)

	second, err := New(other, logrus.New(), WithClock(now), WithCache(newCache())).Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, second.TotalAssets)
	assert.Len(t, mr.Keys(), 2)

	// services reading one store share statistics under an equal scope
	shared := func() *Service {
		return New(seeded, logrus.New(), WithClock(now), WithCache(newCache()), WithScope("plant-1"))
	}

	_, err = shared().Stats(ctx)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 3)

	_, err = shared().Stats(ctx)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 3)

	// the windows are part of the key
	_, err = New(seeded, logrus.New(), WithClock(now), WithCache(newCache()), WithScope("plant-1"), WithWindows(time.Hour, time.Hour)).Stats(ctx)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 4)
}
