package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2025, 12, d, 0, 0, 0, 0, time.UTC)
}

func TestHistoryAppend(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	err := r.History.Append(ctx, &model.MaintenanceRecord{AssetTag: "A2", CheckDate: day(9)})
	assert.ErrorIs(t, err, model.ErrUnresolvedReference)
	assert.Equal(t, "UnresolvedReference", model.ErrorKind(err))

	_, _, err = r.Upsert(ctx, &model.Asset{Tag: "A2"})
	require.NoError(t, err)

	upload := uuid.New()

	records := []*model.MaintenanceRecord{
		{AssetTag: "A2", CheckDate: day(9), CheckType: model.CheckTypeDisk, ResultStatus: model.ResultPass, BatchID: upload},
		{AssetTag: "A2", CheckDate: day(1), CheckType: model.CheckTypeProcess, ResultStatus: model.ResultPass, BatchID: upload},
		{AssetTag: "A2", CheckDate: day(9), CheckType: model.CheckTypeLog, ResultStatus: model.ResultFail, BatchID: upload},
	}

	for _, rec := range records {
		require.NoError(t, r.History.Append(ctx, rec))
		assert.NotEqual(t, uuid.Nil, rec.ID)
		assert.Equal(t, testNow, rec.AdmittedAt)
	}

	history, err := r.History.ByAsset(ctx, "A2", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 3)

	// one upload is ordered by check date, then admission order
	assert.Equal(t, model.CheckTypeProcess, history[0].CheckType)
	assert.Equal(t, model.CheckTypeDisk, history[1].CheckType)
	assert.Equal(t, model.CheckTypeLog, history[2].CheckType)

	// an appended record is never replaced
	dup := *records[0]
	dup.BatchID = uuid.New()
	require.NoError(t, r.History.Append(ctx, &dup))

	history, err = r.History.ByAsset(ctx, "A2", day(9), day(9))
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.NotEqual(t, records[0].ID, dup.ID)
}

func TestHistoryBackDatedUploadFollows(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	_, _, err := r.Upsert(ctx, &model.Asset{Tag: "A2"})
	require.NoError(t, err)

	require.NoError(t, r.History.Append(ctx, &model.MaintenanceRecord{
		AssetTag: "A2", CheckDate: day(9), Worker: "first", BatchID: uuid.New(),
	}))

	require.NoError(t, r.History.Append(ctx, &model.MaintenanceRecord{
		AssetTag: "A2", CheckDate: day(1), Worker: "second", BatchID: uuid.New(),
	}))

	history, err := r.History.ByAsset(ctx, "A2", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "first", history[0].Worker)
	assert.Equal(t, "second", history[1].Worker)
}

func TestHistoryAppendStoreError(t *testing.T) {
	r := New(&failingRepo{MemStore: store.NewMemStore()}, nil)

	err := r.History.Append(context.Background(), &model.MaintenanceRecord{AssetTag: "A1"})
	assert.ErrorIs(t, err, store.ErrStore)
}

// failingRepo fails asset lookups.
type failingRepo struct {
	*store.MemStore
}

func (f *failingRepo) AssetByTag(context.Context, string) (*model.Asset, error) {
	return nil, store.ErrStore
}
