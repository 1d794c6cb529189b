package decision

import (
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/world"
)

// Observation is the view of the world one agent decides from. It is
// built once per agent per tick by the observation builder and carries
// everything a backend needs so backends never read world state
// directly.
type ObservedSelf struct {
	Position  world.Position `json:"position"`
	Vitals    agent.Vitals   `json:"vitals"`
	Balance   int64          `json:"balance"`
	Inventory map[string]int `json:"inventory,omitempty"`
	Archetype string         `json:"archetype"`
	Status    string         `json:"status"`
}

type ObservedAgent struct {
	ID        string         `json:"id"`
	Position  world.Position `json:"position"`
	Archetype string         `json:"archetype"`
	Distance  int            `json:"distance"`
}

type ObservedEvent struct {
	Type    string `json:"type"`
	Tick    int64  `json:"tick"`
	AgentID string `json:"agent_id,omitempty"`
}

type Observation struct {
	AgentID       string          `json:"agent_id"`
	Tick          int64           `json:"tick"`
	Self          ObservedSelf    `json:"self"`
	Nearby        []ObservedAgent `json:"nearby,omitempty"`
	RecentEvents  []ObservedEvent `json:"recent_events,omitempty"`
	Geography     world.Geography `json:"geography"`
	SurvivalTicks int64           `json:"survival_ticks"`
}
