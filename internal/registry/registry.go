// Package registry admits validated records into the store.
//
// Asset upserts, maintenance appends and event appends are serialized per asset tag,
// the exclusive access is held only across the store mutation.
package registry

import (
	"context"
	"time"

	"github.com/jinzhu/copier"
	"github.com/metal-toolbox/pms/internal/model"
	"github.com/metal-toolbox/pms/internal/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Change describes the effect of an upsert.
type Change string

const (
	ChangeCreated   Change = "created"
	ChangeUpdated   Change = "updated"
	ChangeUnchanged Change = "unchanged"
)

var ErrMerge = errors.New("asset merge error")

// Registry owns the asset registry, maintenance histories and the event index.
type Registry struct {
	repo   store.Repository
	locks  *KeyedMutex
	logger *logrus.Logger
	now    func() time.Time

	History *History
	Events  *EventIndex
}

// Option sets a Registry parameter.
type Option func(*Registry)

// WithClock sets the clock used for record bookkeeping timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New returns a Registry on the repository.
func New(repo store.Repository, logger *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		repo:   repo,
		locks:  NewKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.History = &History{registry: r}
	r.Events = &EventIndex{registry: r}

	return r
}

// Repository returns the underlying store.
func (r *Registry) Repository() store.Repository {
	return r.repo
}

// Exists returns true if the tag refers to an admitted asset.
func (r *Registry) Exists(ctx context.Context, tag string) (bool, error) {
	_, err := r.repo.AssetByTag(ctx, tag)
	if err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Asset returns the asset by tag, store.ErrAssetNotFound is returned for an unknown tag.
func (r *Registry) Asset(ctx context.Context, tag string) (*model.Asset, error) {
	return r.repo.AssetByTag(ctx, tag)
}

// Assets returns the assets matching the search, ordered by tag.
func (r *Registry) Assets(ctx context.Context, search string) ([]*model.Asset, error) {
	return r.repo.Assets(ctx, search)
}

// Upsert creates the asset when its tag is unseen, otherwise the incoming asset is merged
// into the stored one. Non empty incoming fields overwrite, empty fields never erase a
// known value and an Unknown status never replaces a known status.
//
// The merged asset is stored only when it differs from the stored asset.
func (r *Registry) Upsert(ctx context.Context, incoming *model.Asset) (*model.Asset, Change, error) {
	unlock := r.locks.Lock(incoming.Tag)
	defer unlock()

	existing, err := r.repo.AssetByTag(ctx, incoming.Tag)
	if err != nil && !errors.Is(err, store.ErrAssetNotFound) {
		return nil, "", err
	}

	now := r.now()

	if existing == nil {
		created := *incoming
		if created.Status == "" {
			created.Status = model.AssetStatusUnknown
		}

		created.CreatedAt = now
		created.UpdatedAt = now

		if err := r.repo.PutAsset(ctx, &created); err != nil {
			return nil, "", err
		}

		r.logger.WithFields(logrus.Fields{"asset": created.Tag}).Debug("asset created")

		return &created, ChangeCreated, nil
	}

	merged, err := merge(existing, incoming)
	if err != nil {
		return nil, "", err
	}

	if merged.Descriptive() == existing.Descriptive() {
		return existing, ChangeUnchanged, nil
	}

	merged.UpdatedAt = now

	if err := r.repo.PutAsset(ctx, merged); err != nil {
		return nil, "", err
	}

	r.logger.WithFields(logrus.Fields{"asset": merged.Tag}).Debug("asset updated")

	return merged, ChangeUpdated, nil
}

func merge(existing, incoming *model.Asset) (*model.Asset, error) {
	merged := *existing

	if err := copier.CopyWithOption(&merged, incoming, copier.Option{IgnoreEmpty: true}); err != nil {
		return nil, errors.Wrap(ErrMerge, err.Error())
	}

	// identity and bookkeeping fields are never taken from the incoming record.
	merged.Tag = existing.Tag
	merged.CreatedAt = existing.CreatedAt
	merged.UpdatedAt = existing.UpdatedAt

	if incoming.Status == model.AssetStatusUnknown {
		merged.Status = existing.Status
	}

	return &merged, nil
}

// lockAsset acquires the tag and confirms the asset is admitted,
// model.ErrUnresolvedReference is returned for an unknown tag.
func (r *Registry) lockAsset(ctx context.Context, tag string) (unlock func(), err error) {
	unlock = r.locks.Lock(tag)

	exists, err := r.Exists(ctx, tag)
	if err != nil {
		unlock()
		return nil, err
	}

	if !exists {
		unlock()
		return nil, errors.Wrap(model.ErrUnresolvedReference, tag)
	}

	return unlock, nil
}
