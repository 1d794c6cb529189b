package tick

import (
	"time"

	"vivarium/internal/domain/event"
)

// TickResult is everything one ProcessTick call did. Paused and
// Skipped mark the two defensive no-op cases: a paused world and a
// second caller racing an in-flight tick. Neither advances the
// counter.
type TickResult struct {
	Tick            int64             `json:"tick"`
	Duration        time.Duration     `json:"duration"`
	AgentCount      int               `json:"agent_count"`
	ActionsExecuted int               `json:"actions_executed"`
	Fallbacks       int               `json:"fallbacks"`
	Deaths          []string          `json:"deaths"`
	Births          []string          `json:"births"`
	AgentErrors     map[string]string `json:"agent_errors,omitempty"`
	Events          []event.Event     `json:"events"`
	Paused          bool              `json:"paused,omitempty"`
	Skipped         bool              `json:"skipped,omitempty"`
	StopClock       bool              `json:"stop_clock,omitempty"`
}

func (r TickResult) DurationMs() int64 {
	return r.Duration.Milliseconds()
}
