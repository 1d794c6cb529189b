package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vivarium/internal/adapter/repo/gorm/model"
	"vivarium/internal/app/ports"
)

// ClockRepo persists the tick counter in a single upserted row.
type ClockRepo struct {
	db *gorm.DB
}

func NewClockRepo(db *gorm.DB) ClockRepo {
	return ClockRepo{db: db}
}

func (r ClockRepo) Load(ctx context.Context) (int64, error) {
	var m model.ClockState
	err := getDBFromCtx(ctx, r.db).
		Where(&model.ClockState{ID: model.ClockStateID}).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ports.ErrNotFound
		}
		return 0, err
	}
	return m.Tick, nil
}

func (r ClockRepo) Save(ctx context.Context, tick int64) error {
	m := model.ClockState{
		ID:        model.ClockStateID,
		Tick:      tick,
		UpdatedAt: time.Now().UTC(),
	}
	return getDBFromCtx(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tick", "updated_at"}),
		}).
		Create(&m).Error
}

func (r ClockRepo) Reset(ctx context.Context) error {
	return r.Save(ctx, 0)
}
