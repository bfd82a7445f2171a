package registry

import (
	"context"
	"testing"
	"time"

	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIndex(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	err := r.Events.Append(ctx, &model.EventLogRecord{AssetTag: "A1", EventID: 41, Level: 1, Timestamp: testNow})
	assert.ErrorIs(t, err, model.ErrUnresolvedReference)

	for _, tag := range []string{"A1", "A2", "A3"} {
		_, _, err := r.Upsert(ctx, &model.Asset{Tag: tag})
		require.NoError(t, err)
	}

	window := 24 * time.Hour

	tags, err := r.Events.WarningAssets(ctx, testNow, window)
	require.NoError(t, err)
	assert.Empty(t, tags)

	for _, e := range []*model.EventLogRecord{
		{AssetTag: "A2", EventID: 41, Level: 1, Timestamp: testNow.Add(-time.Hour)},
		{AssetTag: "A1", EventID: 41, Level: 1, Timestamp: testNow.Add(-48 * time.Hour)},
		{AssetTag: "A3", EventID: 7000, Level: 2, Timestamp: testNow},
		{AssetTag: "A3", EventID: 6005, Level: 4, Timestamp: testNow},
	} {
		require.NoError(t, r.Events.Append(ctx, e))
	}

	// the append invalidated the previously built index
	tags, err = r.Events.WarningAssets(ctx, testNow, window)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2"}, tags)

	tags, err = r.Events.WarningAssets(ctx, testNow, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, tags)

	require.NoError(t, r.Events.Append(ctx, &model.EventLogRecord{AssetTag: "A3", EventID: 41, Level: 1, Timestamp: testNow}))

	tags, err = r.Events.WarningAssets(ctx, testNow, window)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2", "A3"}, tags)

	count, err := r.Events.RecentCount(ctx, testNow.Add(-window))
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	events, err := r.Events.ByAsset(ctx, "A3", store.EventFilter{AssetTag: "A1"})
	require.NoError(t, err)
	assert.Len(t, events, 3)

	summary, err := r.Events.Summary(ctx, "A3")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, map[string]int{"EventID_41": 1}, summary.Levels["level_1"])
	assert.Equal(t, map[string]int{"EventID_7000": 1}, summary.Levels["level_2"])
	assert.Empty(t, summary.Levels["level_3"])
}
