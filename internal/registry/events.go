package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/store"
)

// EventIndex holds the event records of assets and a derived index of assets
// that logged Critical events.
//
// The index is rebuilt from the event history on the first query after an append.
type EventIndex struct {
	registry *Registry

	mu sync.Mutex
	// generation is incremented on each append, a rebuild is kept only
	// when no append occurred while it ran.
	generation uint64
	valid      bool
	// latest holds the time of the most recent Critical event per asset tag.
	latest map[string]time.Time
}

// Append adds the event to the record of its asset, assigning the record ID and sequence.
// Events referencing an unknown asset are rejected.
func (x *EventIndex) Append(ctx context.Context, rec *model.EventLogRecord) error {
	unlock, err := x.registry.lockAsset(ctx, rec.AssetTag)
	if err != nil {
		return err
	}

	defer unlock()

	rec.ID = uuid.New()

	if err := x.registry.repo.AppendEvent(ctx, rec); err != nil {
		return err
	}

	x.invalidate()

	return nil
}

func (x *EventIndex) invalidate() {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.generation++
	x.valid = false
}

// WarningAssets returns the sorted tags of assets with at least one Critical event
// timestamped within window before now.
func (x *EventIndex) WarningAssets(ctx context.Context, now time.Time, window time.Duration) ([]string, error) {
	latest, err := x.index(ctx)
	if err != nil {
		return nil, err
	}

	since := now.Add(-window)
	tags := []string{}

	for tag, ts := range latest {
		if !ts.Before(since) {
			tags = append(tags, tag)
		}
	}

	sort.Strings(tags)

	return tags, nil
}

func (x *EventIndex) index(ctx context.Context) (map[string]time.Time, error) {
	x.mu.Lock()
	if x.valid {
		latest := x.latest
		x.mu.Unlock()

		return latest, nil
	}

	generation := x.generation
	x.mu.Unlock()

	events, err := x.registry.repo.Events(ctx, store.EventFilter{MaxLevel: model.LevelCritical})
	if err != nil {
		return nil, err
	}

	latest := map[string]time.Time{}

	for _, e := range events {
		if ts, ok := latest[e.AssetTag]; !ok || e.Timestamp.After(ts) {
			latest[e.AssetTag] = e.Timestamp
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.generation == generation {
		x.latest = latest
		x.valid = true
	}

	return latest, nil
}

// RecentCount returns the count of events of any level timestamped at or after since.
func (x *EventIndex) RecentCount(ctx context.Context, since time.Time) (int, error) {
	return x.registry.repo.CountEvents(ctx, store.EventFilter{Since: since})
}

// ByAsset returns the events of the asset matching the filter in admission order,
// the filter asset tag is overridden.
func (x *EventIndex) ByAsset(ctx context.Context, tag string, filter store.EventFilter) ([]*model.EventLogRecord, error) {
	filter.AssetTag = tag

	return x.registry.repo.Events(ctx, filter)
}

// Summary returns the per level EventID counts of the asset.
func (x *EventIndex) Summary(ctx context.Context, tag string) (model.EventSummary, error) {
	events, err := x.registry.repo.Events(ctx, store.EventFilter{AssetTag: tag, MaxLevel: model.LevelWarning})
	if err != nil {
		return model.EventSummary{}, err
	}

	return model.SummarizeEvents(tag, events), nil
}
