package worldview

import (
	"sync"
	"time"

	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/experiment"
	"vivarium/internal/domain/world"
)

type AgentSummary struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Archetype  string         `json:"archetype"`
	Position   world.Position `json:"position"`
	Vitals     agent.Vitals   `json:"vitals"`
	Balance    int64          `json:"balance"`
	Status     string         `json:"status"`
	Generation int            `json:"generation"`
	DeathCause string         `json:"death_cause,omitempty"`
}

// Summary is the cached "current world" projection refreshed at the end
// of every tick so polling readers never touch the store.
type Summary struct {
	Tick           int64               `json:"tick"`
	Paused         bool                `json:"paused"`
	AliveCount     int                 `json:"alive_count"`
	DeadCount      int                 `json:"dead_count"`
	LastDurationMs int64               `json:"last_duration_ms"`
	LastActions    int                 `json:"last_actions"`
	LastFallbacks  int                 `json:"last_fallbacks"`
	LastDeaths     []string            `json:"last_deaths,omitempty"`
	LastBirths     []string            `json:"last_births,omitempty"`
	Experiment     *experiment.Context `json:"experiment,omitempty"`
	Agents         []AgentSummary      `json:"agents"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type Cache struct {
	mu  sync.RWMutex
	cur Summary
}

func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) Update(s Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = s
}

// Current returns a copy; slices are duplicated so callers can hold the
// result across ticks.
func (c *Cache) Current() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.cur
	out.Agents = append([]AgentSummary(nil), c.cur.Agents...)
	out.LastDeaths = append([]string(nil), c.cur.LastDeaths...)
	out.LastBirths = append([]string(nil), c.cur.LastBirths...)
	if c.cur.Experiment != nil {
		ec := *c.cur.Experiment
		out.Experiment = &ec
	}
	return out
}

// Summarize converts agents into the cached form, preserving input
// order.
func Summarize(agents []agent.Agent) ([]AgentSummary, int, int) {
	out := make([]AgentSummary, 0, len(agents))
	alive, dead := 0, 0
	for _, ag := range agents {
		if ag.Alive() {
			alive++
		} else {
			dead++
		}
		out = append(out, AgentSummary{
			ID:         ag.ID,
			Name:       ag.Name,
			Archetype:  string(ag.Archetype),
			Position:   ag.Position,
			Vitals:     ag.Vitals,
			Balance:    ag.Balance,
			Status:     string(ag.Status),
			Generation: ag.Generation,
			DeathCause: string(ag.DeathCause),
		})
	}
	return out, alive, dead
}
