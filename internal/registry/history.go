package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/metal-toolbox/pms/internal/model"
)

// History is the append only maintenance history of assets.
type History struct {
	registry *Registry
}

// Append adds the record to the history of its asset, assigning the record ID,
// sequence and admission time. Records referencing an unknown asset are rejected.
func (h *History) Append(ctx context.Context, rec *model.MaintenanceRecord) error {
	unlock, err := h.registry.lockAsset(ctx, rec.AssetTag)
	if err != nil {
		return err
	}

	defer unlock()

	rec.ID = uuid.New()
	rec.AdmittedAt = h.registry.now()

	return h.registry.repo.AppendMaintenance(ctx, rec)
}

// ByAsset returns the maintenance history of the asset in upload order, the records
// of one upload ordered by check date. Zero bounds are open.
func (h *History) ByAsset(ctx context.Context, tag string, from, to time.Time) ([]*model.MaintenanceRecord, error) {
	return h.registry.repo.MaintenanceByAsset(ctx, tag, from, to)
}
