package gormrepo

import (
	"fmt"

	"gorm.io/gorm"

	"vivarium/internal/adapter/repo/gorm/model"
)

// Migrate creates or updates the schema from the model structs. Kept as
// AutoMigrate rather than SQL files so the same schema works on both
// postgres and sqlite.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Agent{},
		&model.SimEvent{},
		&model.Gestation{},
		&model.LineageRecord{},
		&model.Experiment{},
		&model.ExperimentVariant{},
		&model.ClockState{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
