package store

import (
	"context"
	"time"

	"github.com/metal-toolbox/pms/internal/model"
	"github.com/pkg/errors"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrStore         = errors.New("store error")
)

// EventFilter selects event records, zero values match all.
type EventFilter struct {
	AssetTag string
	// Since excludes events with a timestamp before it.
	Since time.Time
	// MaxLevel excludes events less severe than the level.
	MaxLevel int
}

// Match returns true if the event is selected by the filter.
func (f EventFilter) Match(e *model.EventLogRecord) bool {
	switch {
	case f.AssetTag != "" && e.AssetTag != f.AssetTag:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case f.MaxLevel > 0 && e.Level > f.MaxLevel:
		return false
	default:
		return true
	}
}

// AssetCounts are the registry totals shown on the dashboard.
type AssetCounts struct {
	Total       int
	Operational int
}

// Repository is the durable keyed store behind the registry.
//
// Maintenance and event records are append only, a Repository never updates or removes them.
type Repository interface {
	// PutAsset stores the asset as given, merging is left to the caller.
	PutAsset(ctx context.Context, asset *model.Asset) error
	// AssetByTag returns ErrAssetNotFound when the tag is unknown.
	AssetByTag(ctx context.Context, tag string) (*model.Asset, error)
	// Assets returns assets ordered by tag, a non empty search matches name, tag, ip address and location.
	Assets(ctx context.Context, search string) ([]*model.Asset, error)
	CountAssets(ctx context.Context) (AssetCounts, error)

	// AppendMaintenance stores the record, assigning its Seq.
	AppendMaintenance(ctx context.Context, rec *model.MaintenanceRecord) error
	// MaintenanceByAsset returns the history of the asset ordered as model.SortHistory does,
	// zero from and to bounds are open.
	MaintenanceByAsset(ctx context.Context, tag string, from, to time.Time) ([]*model.MaintenanceRecord, error)

	// AppendEvent stores the record, assigning its Seq.
	AppendEvent(ctx context.Context, rec *model.EventLogRecord) error
	// Events returns the selected events ordered by Seq.
	Events(ctx context.Context, filter EventFilter) ([]*model.EventLogRecord, error)
	CountEvents(ctx context.Context, filter EventFilter) (int, error)

	// Revision increases with every mutation, it is used to invalidate derived data.
	Revision(ctx context.Context) (int64, error)

	Close() error
}
