package gestation

import (
	"context"
	"errors"
	"math/rand"

	"go.uber.org/zap"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/lineage"
	"vivarium/internal/domain/world"
)

// errAlreadyCompleted aborts the spawn transaction when another scan
// got to the gestation first.
var errAlreadyCompleted = errors.New("gestation already completed")

// Scheduler owns every gestation mutation. It runs once per tick from
// the tick loop, so state transitions are single-writer; the
// status-flip guard in Complete makes a duplicate scan spawn nothing.
type Scheduler struct {
	Agents     ports.AgentRepository
	Gestations ports.GestationRepository
	Lineages   ports.LineageRepository
	Tx         ports.TxManager
	Geography  world.Geography

	// Rng is the world's seeded stream. All offspring entropy draws
	// from it, which is what keeps spawns identical across replays.
	Rng *rand.Rand
	Log *zap.Logger
}

// Begin records a new gestation. ErrConflict means the pair already
// has one active, which callers treat as benign.
func (s *Scheduler) Begin(ctx context.Context, g lineage.Gestation) error {
	return s.Gestations.Create(ctx, g)
}

type SpawnReport struct {
	Spawned []agent.Agent
	Failed  []string
	Events  []event.Event
}

func (r SpawnReport) BirthIDs() []string {
	out := make([]string, 0, len(r.Spawned))
	for _, ag := range r.Spawned {
		out = append(out, ag.ID)
	}
	return out
}

// Advance scans due gestations in stable ID order and spawns offspring.
// Completion and spawn commit atomically; a gestation whose parent died
// while gestating fails instead of spawning.
func (s *Scheduler) Advance(ctx context.Context, tick int64) (SpawnReport, error) {
	var rep SpawnReport

	active, err := s.Gestations.ListGestating(ctx)
	if err != nil {
		return rep, err
	}

	for _, g := range active {
		if !g.Due(tick) {
			continue
		}

		parent, perr := s.Agents.Get(ctx, g.ParentAgentID)
		if errors.Is(perr, ports.ErrNotFound) || (perr == nil && !parent.Alive()) {
			flipped, ferr := s.Gestations.Fail(ctx, g.ID)
			if ferr != nil {
				s.log().Warn("gestation fail-transition error",
					zap.String("gestation_id", g.ID), zap.Error(ferr))
				continue
			}
			if flipped {
				rep.Failed = append(rep.Failed, g.ID)
				rep.Events = append(rep.Events, event.New(event.TypeGestationFailed, tick, g.ParentAgentID, map[string]any{
					"gestation_id": g.ID,
					"reason":       "parent dead",
				}))
			}
			continue
		}
		if perr != nil {
			return rep, perr
		}

		child, rec := lineage.Synthesize(parent, g, tick, s.Geography, s.rng())
		txErr := s.Tx.RunInTx(ctx, func(txCtx context.Context) error {
			ok, cerr := s.Gestations.Complete(txCtx, g.ID, child.ID)
			if cerr != nil {
				return cerr
			}
			if !ok {
				return errAlreadyCompleted
			}
			if cerr := s.Agents.Create(txCtx, child); cerr != nil {
				return cerr
			}
			return s.Lineages.Create(txCtx, rec)
		})
		if errors.Is(txErr, errAlreadyCompleted) {
			continue
		}
		if txErr != nil {
			s.log().Warn("offspring spawn failed",
				zap.String("gestation_id", g.ID), zap.Error(txErr))
			continue
		}

		rep.Spawned = append(rep.Spawned, child)
		rep.Events = append(rep.Events, event.New(event.TypeAgentSpawned, tick, child.ID, map[string]any{
			"parent_id":    parent.ID,
			"partner_id":   g.PartnerAgentID,
			"gestation_id": g.ID,
			"generation":   child.Generation,
			"archetype":    string(child.Archetype),
			"mutated":      rec.Mutated,
			"position":     map[string]any{"x": child.Position.X, "y": child.Position.Y},
		}))
	}
	return rep, nil
}

func (s *Scheduler) rng() *rand.Rand {
	if s.Rng == nil {
		s.Rng = rand.New(rand.NewSource(1))
	}
	return s.Rng
}

func (s *Scheduler) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}
