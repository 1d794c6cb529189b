package replay

import (
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/world"
)

type Request struct {
	AgentID  string
	FromTick int64
	ToTick   int64
	Limit    int
}

// ReconstructedState is an agent's latest state folded purely from its
// event history, independent of the agents table. Divergence between
// the two indicates a persistence bug.
type ReconstructedState struct {
	AgentID    string         `json:"agent_id"`
	Position   world.Position `json:"position"`
	Vitals     agent.Vitals   `json:"vitals"`
	Balance    int64          `json:"balance"`
	Inventory  map[string]int `json:"inventory,omitempty"`
	Status     string         `json:"status"`
	Generation int            `json:"generation"`
	LastAction string         `json:"last_action,omitempty"`
	LastTick   int64          `json:"last_tick"`
	EventCount int            `json:"event_count"`
}

type Response struct {
	Events      []event.Event      `json:"events"`
	LatestState ReconstructedState `json:"latest_state"`
	Digest      string             `json:"digest"`
}

type RangeResponse struct {
	FromTick   int64  `json:"from_tick"`
	ToTick     int64  `json:"to_tick"`
	EventCount int    `json:"event_count"`
	Digest     string `json:"digest"`
}
