package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"vivarium/internal/adapter/repo/gorm/model"
	"vivarium/internal/app/ports"
	"vivarium/internal/domain/lineage"
)

type GestationRepo struct {
	db *gorm.DB
}

func NewGestationRepo(db *gorm.DB) GestationRepo {
	return GestationRepo{db: db}
}

// createSQL rejects a second active gestation for the same pair in the
// same statement that inserts, so the pair guard has no read window.
const gestationCreateSQL = `
INSERT INTO gestations (id, parent_agent_id, partner_agent_id, start_tick, duration_ticks, status, offspring_agent_id)
SELECT ?, ?, ?, ?, ?, ?, ''
WHERE NOT EXISTS (
  SELECT 1 FROM gestations
  WHERE parent_agent_id = ? AND partner_agent_id = ? AND status = ?)`

func (r GestationRepo) Create(ctx context.Context, g lineage.Gestation) error {
	res := getDBFromCtx(ctx, r.db).Exec(gestationCreateSQL,
		g.ID, g.ParentAgentID, g.PartnerAgentID, g.StartTick, g.DurationTicks, string(g.Status),
		g.ParentAgentID, g.PartnerAgentID, string(lineage.StatusGestating),
	)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ports.ErrConflict
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ports.ErrConflict
	}
	return nil
}

func (r GestationRepo) Get(ctx context.Context, id string) (lineage.Gestation, error) {
	var m model.Gestation
	if err := getDBFromCtx(ctx, r.db).Where(&model.Gestation{ID: id}).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return lineage.Gestation{}, ports.ErrNotFound
		}
		return lineage.Gestation{}, err
	}
	return gestationFromModel(m), nil
}

func (r GestationRepo) ListGestating(ctx context.Context) ([]lineage.Gestation, error) {
	var rows []model.Gestation
	err := getDBFromCtx(ctx, r.db).
		Where(&model.Gestation{Status: string(lineage.StatusGestating)}).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]lineage.Gestation, 0, len(rows))
	for _, m := range rows {
		out = append(out, gestationFromModel(m))
	}
	return out, nil
}

// Complete flips gestating -> completed. The guarded update is what
// makes the spawn idempotent: only the caller that actually flipped the
// row proceeds to create the offspring.
func (r GestationRepo) Complete(ctx context.Context, id, offspringAgentID string) (bool, error) {
	return r.flip(ctx, id, lineage.StatusCompleted, offspringAgentID)
}

func (r GestationRepo) Fail(ctx context.Context, id string) (bool, error) {
	return r.flip(ctx, id, lineage.StatusFailed, "")
}

func (r GestationRepo) flip(ctx context.Context, id string, to lineage.GestationStatus, offspringID string) (bool, error) {
	updates := map[string]any{"status": string(to)}
	if offspringID != "" {
		updates["offspring_agent_id"] = offspringID
	}
	res := getDBFromCtx(ctx, r.db).Model(&model.Gestation{}).
		Where("id = ? AND status = ?", id, string(lineage.StatusGestating)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); errors.Is(err, ports.ErrNotFound) {
		return false, ports.ErrNotFound
	}
	return false, nil
}

func (r GestationRepo) DeleteAll(ctx context.Context) error {
	return getDBFromCtx(ctx, r.db).Exec("DELETE FROM gestations").Error
}

func gestationFromModel(m model.Gestation) lineage.Gestation {
	return lineage.Gestation{
		ID:               m.ID,
		ParentAgentID:    m.ParentAgentID,
		PartnerAgentID:   m.PartnerAgentID,
		StartTick:        m.StartTick,
		DurationTicks:    m.DurationTicks,
		Status:           lineage.GestationStatus(m.Status),
		OffspringAgentID: m.OffspringAgentID,
	}
}
