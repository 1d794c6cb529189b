package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"vivarium/internal/adapter/repo/gorm/model"
	"vivarium/internal/app/ports"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/lineage"
)

type LineageRepo struct {
	db *gorm.DB
}

func NewLineageRepo(db *gorm.DB) LineageRepo {
	return LineageRepo{db: db}
}

func (r LineageRepo) Create(ctx context.Context, rec lineage.Record) error {
	m := model.LineageRecord{
		ID:         rec.ID,
		AgentID:    rec.AgentID,
		ParentID:   rec.ParentID,
		PartnerID:  rec.PartnerID,
		Generation: rec.Generation,
		SpawnTick:  rec.SpawnTick,
		Archetype:  string(rec.Archetype),
		Mutated:    rec.Mutated,
	}
	if err := getDBFromCtx(ctx, r.db).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ports.ErrConflict
		}
		return err
	}
	return nil
}

func (r LineageRepo) GetByAgent(ctx context.Context, agentID string) (lineage.Record, error) {
	var m model.LineageRecord
	if err := getDBFromCtx(ctx, r.db).Where(&model.LineageRecord{AgentID: agentID}).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return lineage.Record{}, ports.ErrNotFound
		}
		return lineage.Record{}, err
	}
	return recordFromModel(m), nil
}

func (r LineageRepo) ListByParent(ctx context.Context, parentID string) ([]lineage.Record, error) {
	var rows []model.LineageRecord
	err := getDBFromCtx(ctx, r.db).
		Where(&model.LineageRecord{ParentID: parentID}).
		Order("spawn_tick ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]lineage.Record, 0, len(rows))
	for _, m := range rows {
		out = append(out, recordFromModel(m))
	}
	return out, nil
}

func (r LineageRepo) DeleteAll(ctx context.Context) error {
	return getDBFromCtx(ctx, r.db).Exec("DELETE FROM lineage_records").Error
}

func recordFromModel(m model.LineageRecord) lineage.Record {
	return lineage.Record{
		ID:         m.ID,
		AgentID:    m.AgentID,
		ParentID:   m.ParentID,
		PartnerID:  m.PartnerID,
		Generation: m.Generation,
		SpawnTick:  m.SpawnTick,
		Archetype:  agent.Archetype(m.Archetype),
		Mutated:    m.Mutated,
	}
}
