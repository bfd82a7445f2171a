package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestParseAssetStatus(t *testing.T) {
	tests := []struct {
		label      string
		want       AssetStatus
		recognized bool
	}{
		{"Operational", AssetStatusOperational, true},
		{" running ", AssetStatusOperational, true},
		{"운영", AssetStatusOperational, true},
		{"점검", AssetStatusMaintenance, true},
		{"RETIRED", AssetStatusRetired, true},
		{"", AssetStatusUnknown, false},
		{"decommissioning", AssetStatusUnknown, false},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			got, ok := ParseAssetStatus(tc.label)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.recognized, ok)
		})
	}
}

func TestSortHistory(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 12, d, 0, 0, 0, 0, time.UTC) }

	first, second := uuid.New(), uuid.New()

	have := []*MaintenanceRecord{
		{CheckDate: day(1), Seq: 5, BatchID: second},
		{CheckDate: day(9), Seq: 3, BatchID: first},
		{CheckDate: day(2), Seq: 6},
		{CheckDate: day(1), Seq: 4, BatchID: first},
		{CheckDate: day(9), Seq: 1, BatchID: first},
	}

	SortHistory(have)

	seqs := []int64{}
	for _, rec := range have {
		seqs = append(seqs, rec.Seq)
	}

	// the back dated second upload follows the first, within an upload by check date
	assert.Equal(t, []int64{4, 1, 3, 5, 6}, seqs)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.Wrap(ErrArchiveCorrupt, "zip: not a valid zip file"), "ArchiveCorrupt"},
		{errors.Wrap(ErrEntryTooLarge, "big.csv"), "EntryTooLarge"},
		{ErrUnrecognized, "Unrecognized"},
		{errors.Wrap(ErrParse, "missing column"), "ParseError"},
		{errors.Wrap(ErrUnresolvedReference, "A9"), "UnresolvedReference"},
		{errors.Wrap(ErrValidationFailed, "bad tag"), "ValidationFailed"},
		{errors.New("boom"), "Internal"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, ErrorKind(tc.err))
	}

	assert.ErrorIs(t, ErrUnresolvedReference, ErrValidationFailed)
}

func TestAssetSummary(t *testing.T) {
	assert.Equal(t, AssetSummary{ID: "A1", Name: "A1"}, Asset{Tag: "A1"}.Summary())
	assert.Equal(t, AssetSummary{ID: "A1", Name: "EWS1"}, Asset{Tag: "A1", Name: "EWS1"}.Summary())
}
