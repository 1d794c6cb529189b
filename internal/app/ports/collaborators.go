package ports

import (
	"context"
	"time"

	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/decision"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/lineage"
	"vivarium/internal/domain/world"
)

// ObservationBuilder assembles the per-agent world view for one tick.
// Must be pure: no side effects, no entropy.
type ObservationBuilder interface {
	Build(ag agent.Agent, tick int64, all []agent.Agent, geo world.Geography, recent []event.Event) decision.Observation
}

// ActionOutcome is what executing one intent did. Updated is the merged
// agent state; Gestation is set when a reproduce action started one;
// Events carries any extra domain events beyond the standard action
// event the tick loop emits itself.
type ActionOutcome struct {
	Success     bool
	FailureCode string
	Updated     agent.Agent
	Gestation   *lineage.Gestation
	Events      []event.Event
}

type ActionExecutor interface {
	Execute(ctx context.Context, it decision.Intent, ag agent.Agent, geo world.Geography, tick int64) (ActionOutcome, error)
}

// EventPublisher fans events out to live subscribers. Fire-and-forget:
// implementations must never block the tick loop, dropping under
// backpressure instead.
type EventPublisher interface {
	Publish(evt event.Event)
}

// PopulationSnapshot is one periodic capture of the whole population
// for later statistical comparison.
type PopulationSnapshot struct {
	ExperimentID string        `json:"experiment_id"`
	VariantID    string        `json:"variant_id"`
	Tick         int64         `json:"tick"`
	TakenAt      time.Time     `json:"taken_at"`
	Agents       []agent.Agent `json:"agents"`
	AliveCount   int           `json:"alive_count"`
	DeadCount    int           `json:"dead_count"`
}

type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, snap PopulationSnapshot) error
}
