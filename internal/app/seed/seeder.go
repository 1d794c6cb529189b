// Package seed creates founder populations and performs full world
// resets. A reset is the origin of a reproducible run: it wipes every
// run-scoped table, rewinds the clock, and derives all founder entropy
// from one seeded stream that the engine then keeps using for
// gestation draws.
package seed

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/lineage"
	"vivarium/internal/domain/world"
)

const DefaultFounderCount = 6

// founderNames is a fixed pool; picks come from the seeded stream so
// runs with the same seed name their founders identically.
var founderNames = []string{
	"ada", "bram", "cleo", "dara", "edos", "fife",
	"gale", "hollis", "iris", "jory", "kiva", "lune",
}

type Seeder struct {
	Agents     ports.AgentRepository
	Events     ports.EventLog
	Gestations ports.GestationRepository
	Lineages   ports.LineageRepository
	Clock      ports.ClockStateRepository
	Tx         ports.TxManager
	Geography  world.Geography
	Log        *zap.Logger
}

// SeedFounders creates the generation-zero population. Draw order per
// founder is fixed (name, archetype, position, ID) so a given seed
// always produces the same founders. Spawn events are appended through
// the log, one per founder, and setup failures are returned rather
// than swallowed.
func (s *Seeder) SeedFounders(ctx context.Context, rng *rand.Rand, count int, brain agent.Brain) ([]agent.Agent, error) {
	if count <= 0 {
		count = DefaultFounderCount
	}
	founders := make([]agent.Agent, 0, count)
	for i := 0; i < count; i++ {
		f := founder(rng, s.Geography, i, brain)
		if err := s.Agents.Create(ctx, f); err != nil {
			return nil, fmt.Errorf("create founder %s: %w", f.Name, err)
		}
		evt := event.New(event.TypeAgentSpawned, 0, f.ID, map[string]any{
			"name":       f.Name,
			"archetype":  string(f.Archetype),
			"generation": 0,
			"position":   map[string]any{"x": f.Position.X, "y": f.Position.Y},
		})
		if _, err := s.Events.Append(ctx, evt); err != nil {
			return nil, fmt.Errorf("record founder spawn: %w", err)
		}
		founders = append(founders, f)
	}
	s.log().Info("founders seeded", zap.Int("count", len(founders)))
	return founders, nil
}

// ResetWorld wipes all run-scoped state and reseeds founders inside a
// single transaction. Experiments survive a reset; they sequence
// resets, they are not subject to them. Returns the founders and the
// seeded stream the engine must adopt for every later draw.
func (s *Seeder) ResetWorld(ctx context.Context, seed int64, founderCount int, brain agent.Brain) ([]agent.Agent, *rand.Rand, error) {
	rng := rand.New(rand.NewSource(seed))

	var founders []agent.Agent
	err := s.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.Events.DeleteAll(txCtx); err != nil {
			return fmt.Errorf("clear events: %w", err)
		}
		if err := s.Gestations.DeleteAll(txCtx); err != nil {
			return fmt.Errorf("clear gestations: %w", err)
		}
		if err := s.Lineages.DeleteAll(txCtx); err != nil {
			return fmt.Errorf("clear lineages: %w", err)
		}
		if err := s.Agents.DeleteAll(txCtx); err != nil {
			return fmt.Errorf("clear agents: %w", err)
		}
		if err := s.Clock.Reset(txCtx); err != nil {
			return fmt.Errorf("reset clock: %w", err)
		}

		reset := event.New(event.TypeWorldReset, 0, "", map[string]any{
			"seed":     seed,
			"founders": founderOrDefault(founderCount),
		})
		if _, err := s.Events.Append(txCtx, reset); err != nil {
			return fmt.Errorf("record reset: %w", err)
		}

		var serr error
		founders, serr = s.SeedFounders(txCtx, rng, founderCount, brain)
		return serr
	})
	if err != nil {
		return nil, nil, err
	}
	s.log().Info("world reset", zap.Int64("seed", seed), zap.Int("founders", len(founders)))
	return founders, rng, nil
}

func founder(rng *rand.Rand, geo world.Geography, ordinal int, brain agent.Brain) agent.Agent {
	name := fmt.Sprintf("%s-%d", founderNames[rng.Intn(len(founderNames))], ordinal+1)
	archetype := agent.Archetypes[rng.Intn(len(agent.Archetypes))]
	pos := geo.RandomPosition(rng)
	return agent.Agent{
		ID:        lineage.NewSeededID(rng),
		Name:      name,
		Archetype: archetype,
		Brain:     brain,
		Position:  pos,
		Vitals: agent.Vitals{
			Hunger: agent.FounderHunger,
			Energy: agent.FounderEnergy,
			Health: agent.FounderHealth,
		},
		Inventory:  map[string]int{"food": 2},
		Generation: 0,
		Status:     agent.StatusIdle,
		BornTick:   0,
	}
}

func founderOrDefault(count int) int {
	if count <= 0 {
		return DefaultFounderCount
	}
	return count
}

func (s *Seeder) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}
