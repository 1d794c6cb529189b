package dispatch

import (
	"time"

	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/decision"
)

// Job is one agent's decision request for one tick. Ephemeral: jobs are
// never persisted, they exist only for the duration of DispatchAll.
type Job struct {
	AgentID     string
	Tick        int64
	Brain       agent.Brain
	Observation decision.Observation
}

// Result is the dispatcher's answer for one job. Exactly one Result
// exists per Job, no matter how the backend behaved.
type Result struct {
	AgentID        string          `json:"agent_id"`
	Tick           int64           `json:"tick"`
	Intent         decision.Intent `json:"intent"`
	UsedFallback   bool            `json:"used_fallback"`
	Attempts       int             `json:"attempts"`
	ProcessingTime time.Duration   `json:"processing_time"`
	Err            string          `json:"error,omitempty"`
}

// Priority buckets: 1 dispatches first when the pool is saturated.
const (
	PriorityCritical = 1
	PriorityUrgent   = 2
	PriorityNormal   = 5
)

// PriorityFor derives dispatch urgency from the agent's vitals.
func PriorityFor(v agent.Vitals) int {
	switch {
	case v.Health < 20 || v.Hunger < 10:
		return PriorityCritical
	case v.Hunger < 30 || v.Energy < 20:
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}
