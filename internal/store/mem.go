package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/metal-toolbox/pms/internal/model"
	"github.com/pkg/errors"
)

// MemStore is an in process Repository, its contents do not survive a restart.
type MemStore struct {
	mu *sync.RWMutex

	// assets is a map of asset tags to assets
	assets map[string]model.Asset

	// maintenance is a map of asset tags to their history in admission order
	maintenance map[string][]model.MaintenanceRecord

	// events in admission order
	events []model.EventLogRecord

	seq      int64
	revision int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		mu:          &sync.RWMutex{},
		assets:      map[string]model.Asset{},
		maintenance: map[string][]model.MaintenanceRecord{},
	}
}

func (c *MemStore) PutAsset(_ context.Context, asset *model.Asset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.assets[asset.Tag] = *asset
	c.revision++

	return nil
}

func (c *MemStore) AssetByTag(_ context.Context, tag string) (*model.Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	asset, exists := c.assets[tag]
	if !exists {
		return nil, errors.Wrap(ErrAssetNotFound, tag)
	}

	return &asset, nil
}

func (c *MemStore) Assets(_ context.Context, search string) ([]*model.Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	assets := []*model.Asset{}

	for tag := range c.assets {
		asset := c.assets[tag]
		if search != "" && !matchAsset(&asset, search) {
			continue
		}

		assets = append(assets, &asset)
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Tag < assets[j].Tag })

	return assets, nil
}

func matchAsset(a *model.Asset, search string) bool {
	for _, field := range []string{a.Name, a.Tag, a.IPAddress, a.Location} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}

	return false
}

func (c *MemStore) CountAssets(_ context.Context) (AssetCounts, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := AssetCounts{Total: len(c.assets)}

	for _, a := range c.assets {
		if a.Status == model.AssetStatusOperational {
			counts.Operational++
		}
	}

	return counts, nil
}

func (c *MemStore) AppendMaintenance(_ context.Context, rec *model.MaintenanceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	rec.Seq = c.seq
	c.maintenance[rec.AssetTag] = append(c.maintenance[rec.AssetTag], *rec)
	c.revision++

	return nil
}

func (c *MemStore) MaintenanceByAsset(_ context.Context, tag string, from, to time.Time) ([]*model.MaintenanceRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	history := make([]*model.MaintenanceRecord, 0, len(c.maintenance[tag]))

	for idx := range c.maintenance[tag] {
		rec := c.maintenance[tag][idx]
		rec.Details = append([]model.Detail(nil), rec.Details...)
		history = append(history, &rec)
	}

	// ranked over the whole history so the bounds never reorder uploads.
	model.SortHistory(history)

	records := []*model.MaintenanceRecord{}

	for _, rec := range history {
		if !from.IsZero() && rec.CheckDate.Before(from) {
			continue
		}

		if !to.IsZero() && rec.CheckDate.After(to) {
			continue
		}

		records = append(records, rec)
	}

	return records, nil
}

func (c *MemStore) AppendEvent(_ context.Context, rec *model.EventLogRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	rec.Seq = c.seq
	c.events = append(c.events, *rec)
	c.revision++

	return nil
}

func (c *MemStore) Events(_ context.Context, filter EventFilter) ([]*model.EventLogRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	events := []*model.EventLogRecord{}

	for idx := range c.events {
		if !filter.Match(&c.events[idx]) {
			continue
		}

		e := c.events[idx]
		events = append(events, &e)
	}

	return events, nil
}

func (c *MemStore) CountEvents(_ context.Context, filter EventFilter) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var count int

	for idx := range c.events {
		if filter.Match(&c.events[idx]) {
			count++
		}
	}

	return count, nil
}

func (c *MemStore) Revision(_ context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.revision, nil
}

func (c *MemStore) Close() error {
	return nil
}
