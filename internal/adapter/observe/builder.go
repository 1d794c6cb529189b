// Package observe builds the per-agent world view a decision backend
// sees. Build is pure: same inputs, same observation, which is what
// keeps seeded runs replayable.
package observe

import (
	"sort"

	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/decision"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/world"
)

// DefaultVisionRadius is the Chebyshev distance an agent can see.
const DefaultVisionRadius = 6

// DefaultEventWindow caps how many recent events reach the backend
// prompt; older events only add tokens, not signal.
const DefaultEventWindow = 10

type Builder struct {
	VisionRadius int
	EventWindow  int
	Tuning       agent.DecayTuning
}

func NewBuilder(tuning agent.DecayTuning) Builder {
	return Builder{
		VisionRadius: DefaultVisionRadius,
		EventWindow:  DefaultEventWindow,
		Tuning:       tuning,
	}
}

func (b Builder) Build(ag agent.Agent, tick int64, all []agent.Agent, geo world.Geography, recent []event.Event) decision.Observation {
	survival, _ := agent.ProjectedSurvivalTicks(ag, b.Tuning)

	return decision.Observation{
		AgentID: ag.ID,
		Tick:    tick,
		Self: decision.ObservedSelf{
			Position:  ag.Position,
			Vitals:    ag.Vitals,
			Balance:   ag.Balance,
			Inventory: copyInventory(ag.Inventory),
			Archetype: string(ag.Archetype),
			Status:    string(ag.Status),
		},
		Nearby:        b.nearby(ag, all),
		RecentEvents:  b.recentEvents(recent),
		Geography:     geo,
		SurvivalTicks: survival,
	}
}

// nearby returns the live agents within vision radius, ordered by ID so
// two builds of the same tick present the same list.
func (b Builder) nearby(self agent.Agent, all []agent.Agent) []decision.ObservedAgent {
	radius := b.VisionRadius
	if radius <= 0 {
		radius = DefaultVisionRadius
	}
	var out []decision.ObservedAgent
	for _, other := range all {
		if other.ID == self.ID || other.Status == agent.StatusDead {
			continue
		}
		d := world.Distance(self.Position, other.Position)
		if d > radius {
			continue
		}
		out = append(out, decision.ObservedAgent{
			ID:        other.ID,
			Position:  other.Position,
			Archetype: string(other.Archetype),
			Distance:  d,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b Builder) recentEvents(recent []event.Event) []decision.ObservedEvent {
	window := b.EventWindow
	if window <= 0 {
		window = DefaultEventWindow
	}
	if len(recent) > window {
		recent = recent[:window]
	}
	out := make([]decision.ObservedEvent, 0, len(recent))
	for _, evt := range recent {
		out = append(out, decision.ObservedEvent{
			Type:    evt.Type,
			Tick:    evt.Tick,
			AgentID: evt.AgentID,
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func copyInventory(inv map[string]int) map[string]int {
	if len(inv) == 0 {
		return nil
	}
	out := make(map[string]int, len(inv))
	for k, v := range inv {
		out[k] = v
	}
	return out
}
