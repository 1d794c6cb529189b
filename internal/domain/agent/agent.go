package agent

import (
	"time"

	"vivarium/internal/domain/world"
)

type Status string

const (
	StatusIdle   Status = "idle"
	StatusActing Status = "acting"
	StatusDead   Status = "dead"
)

// statusTransitions is the full lifecycle map. Dead is terminal; an
// agent is never resurrected.
var statusTransitions = map[Status][]Status{
	StatusIdle:   {StatusActing, StatusDead},
	StatusActing: {StatusIdle, StatusDead},
	StatusDead:   {},
}

func (s Status) CanTransition(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type DeathCause string

const (
	DeathCauseStarvation DeathCause = "starvation"
	DeathCauseExhaustion DeathCause = "exhaustion"
	DeathCauseUnknown    DeathCause = "unknown"
)

// Archetype is the inheritable behavioural tag. Offspring keep the
// parent archetype unless a seeded mutation picks another.
type Archetype string

const (
	ArchetypeForager  Archetype = "forager"
	ArchetypeHoarder  Archetype = "hoarder"
	ArchetypeWanderer Archetype = "wanderer"
	ArchetypeSentinel Archetype = "sentinel"
)

// Archetypes lists every archetype in a fixed order so seeded draws are
// reproducible.
var Archetypes = []Archetype{ArchetypeForager, ArchetypeHoarder, ArchetypeWanderer, ArchetypeSentinel}

// Brain selects the decision backend for an agent.
type Brain string

const (
	BrainLLM       Brain = "llm"
	BrainHeuristic Brain = "heuristic"
	BrainScripted  Brain = "scripted"
)

type Vitals struct {
	Hunger float64 `json:"hunger"`
	Energy float64 `json:"energy"`
	Health float64 `json:"health"`
}

const (
	VitalsFloor = 0.0
	VitalsCap   = 100.0
)

func clampVital(v float64) float64 {
	if v < VitalsFloor {
		return VitalsFloor
	}
	if v > VitalsCap {
		return VitalsCap
	}
	return v
}

// ClampBounded clamps hunger and energy to [0,100]. Health is floored
// at zero but may exceed 100 on heal.
func (v Vitals) ClampBounded() Vitals {
	v.Hunger = clampVital(v.Hunger)
	v.Energy = clampVital(v.Energy)
	if v.Health < VitalsFloor {
		v.Health = VitalsFloor
	}
	return v
}

// Agent is the mutable projection of one agent. Version is the
// optimistic-lock counter checked on save; all durable mutation during
// a tick goes through the tick loop.
type Agent struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Archetype  Archetype      `json:"archetype"`
	Brain      Brain          `json:"brain"`
	Position   world.Position `json:"position"`
	Vitals     Vitals         `json:"vitals"`
	Balance    int64          `json:"balance"`
	Inventory  map[string]int `json:"inventory,omitempty"`
	Generation int            `json:"generation"`
	Status     Status         `json:"status"`
	DeathCause DeathCause     `json:"death_cause,omitempty"`
	BornTick   int64          `json:"born_tick"`
	DiedTick   *int64         `json:"died_tick,omitempty"`
	Version    int64          `json:"version"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (a Agent) Alive() bool {
	return a.Status != StatusDead
}

func (a *Agent) AddItem(item string, amount int) {
	if amount <= 0 || item == "" {
		return
	}
	if a.Inventory == nil {
		a.Inventory = map[string]int{}
	}
	a.Inventory[item] += amount
}

func (a *Agent) ConsumeItem(item string, amount int) bool {
	if amount <= 0 || item == "" || a.Inventory == nil {
		return false
	}
	current := a.Inventory[item]
	if current < amount {
		return false
	}
	a.Inventory[item] = current - amount
	return true
}

func (a *Agent) Transition(next Status) bool {
	if !a.Status.CanTransition(next) {
		return false
	}
	a.Status = next
	return true
}

func (a *Agent) MarkDead(cause DeathCause, tick int64) {
	if a.Status == StatusDead {
		return
	}
	if cause == "" {
		cause = DeathCauseUnknown
	}
	a.Status = StatusDead
	a.DeathCause = cause
	died := tick
	a.DiedTick = &died
}

// Clone returns a deep copy safe to mutate without touching the
// original's inventory map.
func (a Agent) Clone() Agent {
	out := a
	if a.Inventory != nil {
		out.Inventory = make(map[string]int, len(a.Inventory))
		for k, v := range a.Inventory {
			out.Inventory[k] = v
		}
	}
	if a.DiedTick != nil {
		died := *a.DiedTick
		out.DiedTick = &died
	}
	return out
}

// StatePayload is the event-payload form of the agent. Only
// deterministic fields are included; wall-clock timestamps stay out so
// seeded replays stay comparable.
func (a Agent) StatePayload() map[string]any {
	inv := map[string]any{}
	for k, v := range a.Inventory {
		if v != 0 {
			inv[k] = v
		}
	}
	out := map[string]any{
		"position":   map[string]any{"x": a.Position.X, "y": a.Position.Y},
		"hunger":     a.Vitals.Hunger,
		"energy":     a.Vitals.Energy,
		"health":     a.Vitals.Health,
		"balance":    a.Balance,
		"status":     string(a.Status),
		"generation": a.Generation,
	}
	if len(inv) > 0 {
		out["inventory"] = inv
	}
	if a.DeathCause != "" {
		out["death_cause"] = string(a.DeathCause)
	}
	return out
}
