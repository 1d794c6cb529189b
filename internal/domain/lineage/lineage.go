package lineage

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/world"
)

type GestationStatus string

const (
	StatusGestating GestationStatus = "gestating"
	StatusCompleted GestationStatus = "completed"
	StatusFailed    GestationStatus = "failed"
)

// Gestation is the countdown between a successful reproduce action and
// the offspring spawn. Only the gestation scheduler mutates it;
// completed and failed are terminal.
type Gestation struct {
	ID               string          `json:"id"`
	ParentAgentID    string          `json:"parent_agent_id"`
	PartnerAgentID   string          `json:"partner_agent_id,omitempty"`
	StartTick        int64           `json:"start_tick"`
	DurationTicks    int64           `json:"duration_ticks"`
	Status           GestationStatus `json:"status"`
	OffspringAgentID string          `json:"offspring_agent_id,omitempty"`
}

// NewGestation derives its ID from parent and start tick, so a retried
// reproduce action in the same tick maps to the same record.
func NewGestation(parentID, partnerID string, startTick, durationTicks int64) Gestation {
	return Gestation{
		ID:             fmt.Sprintf("gest-%s-%d", parentID, startTick),
		ParentAgentID:  parentID,
		PartnerAgentID: partnerID,
		StartTick:      startTick,
		DurationTicks:  durationTicks,
		Status:         StatusGestating,
	}
}

func (g Gestation) Due(currentTick int64) bool {
	return g.Status == StatusGestating && g.StartTick+g.DurationTicks <= currentTick
}

// Record is the permanent parentage entry written once per spawned
// agent, never mutated.
type Record struct {
	ID         string          `json:"id"`
	AgentID    string          `json:"agent_id"`
	ParentID   string          `json:"parent_id"`
	PartnerID  string          `json:"partner_id,omitempty"`
	Generation int             `json:"generation"`
	SpawnTick  int64           `json:"spawn_tick"`
	Archetype  agent.Archetype `json:"archetype"`
	Mutated    bool            `json:"mutated"`
}

// MutationChance is the probability an offspring's archetype departs
// from the parent's.
const MutationChance = 0.1

// SpawnOffsetRadius bounds how far from the parent an offspring lands.
const SpawnOffsetRadius = 2

// Synthesize builds the offspring agent and its lineage record from a
// due gestation. All entropy comes from rng in a fixed draw order
// (mutation roll, archetype pick, position jitter, agent ID) so a
// seeded run spawns identical offspring every replay.
func Synthesize(parent agent.Agent, g Gestation, tick int64, geo world.Geography, rng *rand.Rand) (agent.Agent, Record) {
	archetype := parent.Archetype
	mutated := rng.Float64() < MutationChance
	if mutated {
		archetype = mutateArchetype(parent.Archetype, rng)
	}

	pos := geo.JitterNear(parent.Position, SpawnOffsetRadius, rng)

	id := NewSeededID(rng)
	child := agent.Agent{
		ID:        id,
		Name:      fmt.Sprintf("%s-kin-%d", parent.Name, tick),
		Archetype: archetype,
		Brain:     parent.Brain,
		Position:  pos,
		Vitals: agent.Vitals{
			Hunger: agent.NewbornHunger,
			Energy: agent.NewbornEnergy,
			Health: agent.NewbornHealth,
		},
		Inventory:  map[string]int{},
		Generation: parent.Generation + 1,
		Status:     agent.StatusIdle,
		BornTick:   tick,
	}

	rec := Record{
		ID:         "lin-" + id,
		AgentID:    id,
		ParentID:   parent.ID,
		PartnerID:  g.PartnerAgentID,
		Generation: child.Generation,
		SpawnTick:  tick,
		Archetype:  archetype,
		Mutated:    mutated,
	}
	return child, rec
}

func mutateArchetype(current agent.Archetype, rng *rand.Rand) agent.Archetype {
	others := make([]agent.Archetype, 0, len(agent.Archetypes)-1)
	for _, a := range agent.Archetypes {
		if a != current {
			others = append(others, a)
		}
	}
	if len(others) == 0 {
		return current
	}
	return others[rng.Intn(len(others))]
}

// NewSeededID draws a UUID from rng instead of crypto/rand so agent
// identity is part of the reproducible stream.
func NewSeededID(rng *rand.Rand) string {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		// rand.Rand.Read never fails; keep a derived fallback anyway.
		return fmt.Sprintf("agent-%016x", rng.Int63())
	}
	return id.String()
}
