package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Detail is a single measured item of a maintenance check.
type Detail struct {
	Item  string `json:"item_name"`
	Value string `json:"value"`
}

// MaintenanceRecord is a maintenance check performed on an asset.
//
// A MaintenanceRecord is immutable once appended to the history of its asset.
//
// nolint:govet // fieldalignment struct is easier to read in the current format
type MaintenanceRecord struct {
	ID           uuid.UUID    `json:"id"`
	AssetTag     string       `json:"asset_id"`
	CheckDate    time.Time    `json:"check_date"`
	CheckType    CheckType    `json:"check_type"`
	Worker       string       `json:"worker,omitempty"`
	ResultStatus ResultStatus `json:"result_status"`
	Details      []Detail     `json:"details,omitempty"`

	// Source is the archive member this record was read from.
	Source string `json:"source,omitempty"`

	// BatchID is the upload that admitted the record, uuid.Nil outside of a batch.
	BatchID uuid.UUID `json:"batch_id"`

	// Seq is the admission sequence number, assigned when appended.
	Seq int64 `json:"seq"`

	AdmittedAt time.Time `json:"admitted_at"`
}

// SortHistory sorts an asset history in upload order. Uploads are ranked by the lowest
// Seq admitted with them, records of one upload are ordered by check date then Seq.
// A record admitted outside of a batch is an upload of its own.
//
// Records from a back dated upload therefore follow the history already admitted.
func SortHistory(records []*MaintenanceRecord) {
	ranks := map[uuid.UUID]int64{}

	for _, rec := range records {
		if rec.BatchID == uuid.Nil {
			continue
		}

		if rank, ok := ranks[rec.BatchID]; !ok || rec.Seq < rank {
			ranks[rec.BatchID] = rec.Seq
		}
	}

	rank := func(rec *MaintenanceRecord) int64 {
		if r, ok := ranks[rec.BatchID]; ok {
			return r
		}

		return rec.Seq
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]

		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}

		if !a.CheckDate.Equal(b.CheckDate) {
			return a.CheckDate.Before(b.CheckDate)
		}

		return a.Seq < b.Seq
	})
}
