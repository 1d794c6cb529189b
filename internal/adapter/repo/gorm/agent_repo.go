package gormrepo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"vivarium/internal/adapter/repo/gorm/model"
	"vivarium/internal/app/ports"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/world"
)

type AgentRepo struct {
	db *gorm.DB
}

func NewAgentRepo(db *gorm.DB) AgentRepo {
	return AgentRepo{db: db}
}

func (r AgentRepo) Create(ctx context.Context, ag agent.Agent) error {
	m := agentToModel(ag)
	m.UpdatedAt = time.Now().UTC()
	if err := getDBFromCtx(ctx, r.db).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ports.ErrConflict
		}
		return err
	}
	return nil
}

func (r AgentRepo) Get(ctx context.Context, id string) (agent.Agent, error) {
	var m model.Agent
	if err := getDBFromCtx(ctx, r.db).Where(&model.Agent{ID: id}).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return agent.Agent{}, ports.ErrNotFound
		}
		return agent.Agent{}, err
	}
	return agentFromModel(m), nil
}

func (r AgentRepo) ListAlive(ctx context.Context) ([]agent.Agent, error) {
	var rows []model.Agent
	err := getDBFromCtx(ctx, r.db).
		Where("status <> ?", string(agent.StatusDead)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return agentsFromModels(rows), nil
}

func (r AgentRepo) ListAll(ctx context.Context) ([]agent.Agent, error) {
	var rows []model.Agent
	if err := getDBFromCtx(ctx, r.db).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return agentsFromModels(rows), nil
}

// SaveWithVersion is the optimistic lock: the update only lands when the
// stored version still matches what the tick read at its start.
func (r AgentRepo) SaveWithVersion(ctx context.Context, ag agent.Agent, expectedVersion int64) error {
	updates := map[string]any{
		"name":        ag.Name,
		"archetype":   string(ag.Archetype),
		"brain":       string(ag.Brain),
		"x":           ag.Position.X,
		"y":           ag.Position.Y,
		"hunger":      ag.Vitals.Hunger,
		"energy":      ag.Vitals.Energy,
		"health":      ag.Vitals.Health,
		"balance":     ag.Balance,
		"inventory":   encodeInventory(ag.Inventory),
		"generation":  ag.Generation,
		"status":      string(ag.Status),
		"death_cause": string(ag.DeathCause),
		"born_tick":   ag.BornTick,
		"died_tick":   ag.DiedTick,
		"version":     ag.Version,
		"updated_at":  time.Now().UTC(),
	}
	res := getDBFromCtx(ctx, r.db).Model(&model.Agent{}).
		Where("id = ? AND version = ?", ag.ID, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, ag.ID); errors.Is(err, ports.ErrNotFound) {
			return ports.ErrNotFound
		}
		return ports.ErrConflict
	}
	return nil
}

func (r AgentRepo) DeleteAll(ctx context.Context) error {
	return getDBFromCtx(ctx, r.db).Exec("DELETE FROM agents").Error
}

func agentToModel(ag agent.Agent) model.Agent {
	return model.Agent{
		ID:         ag.ID,
		Name:       ag.Name,
		Archetype:  string(ag.Archetype),
		Brain:      string(ag.Brain),
		X:          ag.Position.X,
		Y:          ag.Position.Y,
		Hunger:     ag.Vitals.Hunger,
		Energy:     ag.Vitals.Energy,
		Health:     ag.Vitals.Health,
		Balance:    ag.Balance,
		Inventory:  encodeInventory(ag.Inventory),
		Generation: ag.Generation,
		Status:     string(ag.Status),
		DeathCause: string(ag.DeathCause),
		BornTick:   ag.BornTick,
		DiedTick:   ag.DiedTick,
		Version:    ag.Version,
	}
}

func agentFromModel(m model.Agent) agent.Agent {
	return agent.Agent{
		ID:         m.ID,
		Name:       m.Name,
		Archetype:  agent.Archetype(m.Archetype),
		Brain:      agent.Brain(m.Brain),
		Position:   world.Position{X: m.X, Y: m.Y},
		Vitals:     agent.Vitals{Hunger: m.Hunger, Energy: m.Energy, Health: m.Health},
		Balance:    m.Balance,
		Inventory:  decodeInventory(m.Inventory),
		Generation: m.Generation,
		Status:     agent.Status(m.Status),
		DeathCause: agent.DeathCause(m.DeathCause),
		BornTick:   m.BornTick,
		DiedTick:   m.DiedTick,
		Version:    m.Version,
		UpdatedAt:  m.UpdatedAt,
	}
}

func agentsFromModels(rows []model.Agent) []agent.Agent {
	out := make([]agent.Agent, 0, len(rows))
	for _, m := range rows {
		out = append(out, agentFromModel(m))
	}
	return out
}

func encodeInventory(inv map[string]int) []byte {
	if len(inv) == 0 {
		return nil
	}
	b, _ := json.Marshal(inv)
	return b
}

func decodeInventory(b []byte) map[string]int {
	if len(b) == 0 {
		return map[string]int{}
	}
	var inv map[string]int
	if err := json.Unmarshal(b, &inv); err != nil || inv == nil {
		return map[string]int{}
	}
	return inv
}
