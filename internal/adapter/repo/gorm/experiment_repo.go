package gormrepo

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"vivarium/internal/adapter/repo/gorm/model"
	"vivarium/internal/app/ports"
	"vivarium/internal/domain/experiment"
)

type ExperimentRepo struct {
	db *gorm.DB
}

func NewExperimentRepo(db *gorm.DB) ExperimentRepo {
	return ExperimentRepo{db: db}
}

func (r ExperimentRepo) CreateExperiment(ctx context.Context, exp experiment.Experiment) error {
	m := model.Experiment{
		ID:        exp.ID,
		Name:      exp.Name,
		Status:    string(exp.Status),
		CreatedAt: exp.CreatedAt,
	}
	if err := getDBFromCtx(ctx, r.db).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ports.ErrConflict
		}
		return err
	}
	return nil
}

func (r ExperimentRepo) GetExperiment(ctx context.Context, id string) (experiment.Experiment, error) {
	var m model.Experiment
	if err := getDBFromCtx(ctx, r.db).Where(&model.Experiment{ID: id}).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return experiment.Experiment{}, ports.ErrNotFound
		}
		return experiment.Experiment{}, err
	}
	return experiment.Experiment{
		ID:        m.ID,
		Name:      m.Name,
		Status:    experiment.Status(m.Status),
		CreatedAt: m.CreatedAt,
	}, nil
}

func (r ExperimentRepo) StartExperiment(ctx context.Context, id string) error {
	return r.moveExperiment(ctx, id, experiment.StatusPending, experiment.StatusRunning)
}

func (r ExperimentRepo) CompleteExperiment(ctx context.Context, id string) error {
	return r.moveExperiment(ctx, id, experiment.StatusRunning, experiment.StatusCompleted)
}

func (r ExperimentRepo) moveExperiment(ctx context.Context, id string, from, to experiment.Status) error {
	res := getDBFromCtx(ctx, r.db).Model(&model.Experiment{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	exp, err := r.GetExperiment(ctx, id)
	if err != nil {
		return err
	}
	// Already in or past the target state is benign.
	if exp.Status == to {
		return nil
	}
	return ports.ErrConflict
}

func (r ExperimentRepo) CreateVariant(ctx context.Context, v experiment.Variant) error {
	var cfg []byte
	if len(v.Config) > 0 {
		cfg, _ = json.Marshal(v.Config)
	}
	m := model.ExperimentVariant{
		ID:            v.ID,
		ExperimentID:  v.ExperimentID,
		Sequence:      v.Sequence,
		Name:          v.Name,
		Status:        string(v.Status),
		DurationTicks: v.DurationTicks,
		StartTick:     v.StartTick,
		EndTick:       v.EndTick,
		WorldSeed:     v.WorldSeed,
		Config:        cfg,
	}
	if err := getDBFromCtx(ctx, r.db).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ports.ErrConflict
		}
		return err
	}
	return nil
}

func (r ExperimentRepo) GetVariant(ctx context.Context, id string) (experiment.Variant, error) {
	var m model.ExperimentVariant
	if err := getDBFromCtx(ctx, r.db).Where(&model.ExperimentVariant{ID: id}).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return experiment.Variant{}, ports.ErrNotFound
		}
		return experiment.Variant{}, err
	}
	return variantFromModel(m), nil
}

func (r ExperimentRepo) ListVariants(ctx context.Context, experimentID string) ([]experiment.Variant, error) {
	var rows []model.ExperimentVariant
	err := getDBFromCtx(ctx, r.db).
		Where(&model.ExperimentVariant{ExperimentID: experimentID}).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]experiment.Variant, 0, len(rows))
	for _, m := range rows {
		out = append(out, variantFromModel(m))
	}
	return out, nil
}

func (r ExperimentRepo) NextPendingVariant(ctx context.Context, experimentID string) (experiment.Variant, error) {
	var m model.ExperimentVariant
	err := getDBFromCtx(ctx, r.db).
		Where(&model.ExperimentVariant{ExperimentID: experimentID, Status: string(experiment.StatusPending)}).
		Order("sequence ASC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return experiment.Variant{}, ports.ErrNotFound
		}
		return experiment.Variant{}, err
	}
	return variantFromModel(m), nil
}

func (r ExperimentRepo) RunningVariant(ctx context.Context) (experiment.Variant, error) {
	var m model.ExperimentVariant
	err := getDBFromCtx(ctx, r.db).
		Where(&model.ExperimentVariant{Status: string(experiment.StatusRunning)}).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return experiment.Variant{}, ports.ErrNotFound
		}
		return experiment.Variant{}, err
	}
	return variantFromModel(m), nil
}

// startVariantSQL enforces the one-running-variant rule in the update
// itself: the row only flips when no variant anywhere is running.
const startVariantSQL = `
UPDATE experiment_variants SET status = ?, start_tick = ?
WHERE id = ? AND status = ?
AND NOT EXISTS (SELECT 1 FROM experiment_variants v WHERE v.status = ?)`

func (r ExperimentRepo) StartVariant(ctx context.Context, id string, tick int64) error {
	res := getDBFromCtx(ctx, r.db).Exec(startVariantSQL,
		string(experiment.StatusRunning), tick,
		id, string(experiment.StatusPending),
		string(experiment.StatusRunning),
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetVariant(ctx, id); errors.Is(err, ports.ErrNotFound) {
			return ports.ErrNotFound
		}
		return ports.ErrConflict
	}
	return nil
}

func (r ExperimentRepo) CompleteVariant(ctx context.Context, id string, tick int64) (bool, error) {
	res := getDBFromCtx(ctx, r.db).Model(&model.ExperimentVariant{}).
		Where("id = ? AND status = ?", id, string(experiment.StatusRunning)).
		Updates(map[string]any{"status": string(experiment.StatusCompleted), "end_tick": tick})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.GetVariant(ctx, id); errors.Is(err, ports.ErrNotFound) {
		return false, ports.ErrNotFound
	}
	return false, nil
}

func (r ExperimentRepo) DeleteAll(ctx context.Context) error {
	db := getDBFromCtx(ctx, r.db)
	if err := db.Exec("DELETE FROM experiment_variants").Error; err != nil {
		return err
	}
	return db.Exec("DELETE FROM experiments").Error
}

func variantFromModel(m model.ExperimentVariant) experiment.Variant {
	var cfg map[string]any
	if len(m.Config) > 0 {
		_ = json.Unmarshal(m.Config, &cfg)
	}
	return experiment.Variant{
		ID:            m.ID,
		ExperimentID:  m.ExperimentID,
		Sequence:      m.Sequence,
		Name:          m.Name,
		Status:        experiment.Status(m.Status),
		DurationTicks: m.DurationTicks,
		StartTick:     m.StartTick,
		EndTick:       m.EndTick,
		WorldSeed:     m.WorldSeed,
		Config:        cfg,
	}
}
