package validate

import (
	"context"
	"testing"
	"time"

	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/parse"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tagSet map[string]bool

func (s tagSet) Exists(_ context.Context, tag string) (bool, error) {
	return s[tag], nil
}

type failingResolver struct{}

func (failingResolver) Exists(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

var now = time.Date(2025, 12, 9, 12, 0, 0, 0, time.UTC)

func TestTag(t *testing.T) {
	for _, tag := range []string{"A1", "1BL_ECMS_EWS1", "pump-07.b", "설비1"} {
		assert.NoError(t, Tag(tag), tag)
	}

	for _, tag := range []string{"", "-A1", "A 1", "A1/../x", string(make([]byte, 129))} {
		assert.Error(t, Tag(tag), tag)
	}
}

func TestAsset(t *testing.T) {
	tests := []struct {
		name       string
		asset      model.Asset
		wantStatus model.AssetStatus
		wantErr    string
	}{
		{"korean status label", model.Asset{Tag: "A1", Status: "운영"}, model.AssetStatusOperational, ""},
		{"unrecognized status defaults", model.Asset{Tag: "A1", Status: "commissioning"}, model.AssetStatusUnknown, ""},
		{"empty status defaults", model.Asset{Tag: "A1"}, model.AssetStatusUnknown, ""},
		{"ipv6 address", model.Asset{Tag: "A1", IPAddress: "fd00::1"}, model.AssetStatusUnknown, ""},
		{"empty tag", model.Asset{Status: "운영"}, model.AssetStatusOperational, "asset tag is empty"},
		{"bad address", model.Asset{Tag: "A1", IPAddress: "10.0.0.300"}, model.AssetStatusUnknown, `invalid ip address "10.0.0.300"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := tc.asset

			err := Asset(&a)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, tc.wantStatus, a.Status)
		})
	}
}

func TestMaintenance(t *testing.T) {
	valid := func() *model.MaintenanceRecord {
		return &model.MaintenanceRecord{AssetTag: "A2", CheckDate: now.Truncate(24 * time.Hour), CheckType: "disk,task", ResultStatus: "ok"}
	}

	m := valid()
	require.NoError(t, Maintenance(m, now))
	assert.Equal(t, model.CheckTypeDisk, m.CheckType)
	assert.Equal(t, model.ResultPass, m.ResultStatus)

	tests := []struct {
		name    string
		mutate  func(*model.MaintenanceRecord)
		wantErr string
	}{
		{"missing date", func(m *model.MaintenanceRecord) { m.CheckDate = time.Time{} }, "check date is missing"},
		{"future date", func(m *model.MaintenanceRecord) { m.CheckDate = now.Add(72 * time.Hour) }, "is in the future"},
		{"check type", func(m *model.MaintenanceRecord) { m.CheckType = "vibration" }, `unknown check type "vibration"`},
		{"result status", func(m *model.MaintenanceRecord) { m.ResultStatus = "maybe" }, `unknown result status "maybe"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := valid()
			tc.mutate(m)

			err := Maintenance(m, now)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	// a check dated within the tolerance window is accepted
	m = valid()
	m.CheckDate = now.Add(12 * time.Hour)
	assert.NoError(t, Maintenance(m, now))
}

func TestEvent(t *testing.T) {
	assert.NoError(t, Event(&model.EventLogRecord{AssetTag: "A1", EventID: 41, Level: 1, Timestamp: now}))

	err := Event(&model.EventLogRecord{AssetTag: "A1", EventID: 70000, Level: 9})
	require.Error(t, err)
	assert.Equal(t, "level 9 out of range 1..5; event id 70000 out of range; timestamp is missing", err.Error())
}

func TestResult(t *testing.T) {
	ctx := context.Background()
	v := New(tagSet{"A1": true}, WithClock(func() time.Time { return now }))

	t.Run("assets only", func(t *testing.T) {
		res := &parse.Result{Assets: []*model.Asset{{Tag: "A2", Status: "점검"}}}
		require.NoError(t, v.Result(ctx, res))
		assert.Equal(t, model.AssetStatusMaintenance, res.Assets[0].Status)
	})

	t.Run("reference resolved by registry", func(t *testing.T) {
		res := &parse.Result{Events: []*model.EventLogRecord{{AssetTag: "A1", EventID: 41, Level: 1, Timestamp: now}}}
		assert.NoError(t, v.Result(ctx, res))
	})

	t.Run("reference resolved within the entry", func(t *testing.T) {
		res := &parse.Result{
			Assets:      []*model.Asset{{Tag: "EWS1", Status: model.AssetStatusUnknown}},
			Maintenance: []*model.MaintenanceRecord{{AssetTag: "EWS1", CheckDate: now, CheckType: model.CheckTypeDisk, ResultStatus: model.ResultPass}},
		}
		assert.NoError(t, v.Result(ctx, res))
	})

	t.Run("unresolved references", func(t *testing.T) {
		res := &parse.Result{Maintenance: []*model.MaintenanceRecord{
			{AssetTag: "A9", CheckDate: now, ResultStatus: model.ResultPass},
			{AssetTag: "A1", CheckDate: now, ResultStatus: model.ResultPass},
			{AssetTag: "A3", CheckDate: now, ResultStatus: model.ResultPass},
		}}

		err := v.Result(ctx, res)
		require.Error(t, err)

		var uerr *UnresolvedError
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, []string{"A3", "A9"}, uerr.Tags)
		assert.ErrorIs(t, err, model.ErrUnresolvedReference)
		assert.ErrorIs(t, err, model.ErrValidationFailed)
		assert.Equal(t, "UnresolvedReference", model.ErrorKind(err))
	})

	t.Run("field violations are collected", func(t *testing.T) {
		res := &parse.Result{
			Assets: []*model.Asset{{Tag: "ok"}, {Tag: ""}},
			Events: []*model.EventLogRecord{{AssetTag: "A9", Level: 0, Timestamp: now}},
		}

		err := v.Result(ctx, res)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrValidationFailed)
		assert.NotErrorIs(t, err, model.ErrUnresolvedReference)
		assert.Contains(t, err.Error(), "asset 2: asset tag is empty")
		assert.Contains(t, err.Error(), "event 1: level 0 out of range 1..5")
	})

	t.Run("resolver failure", func(t *testing.T) {
		res := &parse.Result{Events: []*model.EventLogRecord{{AssetTag: "A1", EventID: 1, Level: 1, Timestamp: now}}}

		err := New(failingResolver{}).Result(ctx, res)
		require.Error(t, err)
		assert.NotErrorIs(t, err, model.ErrValidationFailed)
		assert.Equal(t, "Internal", model.ErrorKind(err))
	})
}
