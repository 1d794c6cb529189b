package ports

import (
	"context"

	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/experiment"
	"vivarium/internal/domain/lineage"
)

type AgentRepository interface {
	Create(ctx context.Context, ag agent.Agent) error
	Get(ctx context.Context, id string) (agent.Agent, error)
	// ListAlive returns live agents ordered by ID; the tick loop relies
	// on that order being stable.
	ListAlive(ctx context.Context) ([]agent.Agent, error)
	ListAll(ctx context.Context) ([]agent.Agent, error)
	// SaveWithVersion persists the projection only when the stored
	// version matches expectedVersion, returning ErrConflict otherwise.
	SaveWithVersion(ctx context.Context, ag agent.Agent, expectedVersion int64) error
	DeleteAll(ctx context.Context) error
}

// EventLog is the append-only history. Append assigns the next global
// version atomically with the insert; a duplicate event ID returns the
// stored event with ErrAlreadyRecorded. ListByAgent, ListByType, and
// the tick reads are ordered by version ascending so callers can fold
// them chronologically; ListRecent is the one descending read. A zero
// limit means no cap.
type EventLog interface {
	Append(ctx context.Context, evt event.Event) (event.Event, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]event.Event, error)
	ListByTick(ctx context.Context, tick int64) ([]event.Event, error)
	ListByTickRange(ctx context.Context, fromTick, toTick int64, limit int) ([]event.Event, error)
	ListByType(ctx context.Context, eventType string, limit int) ([]event.Event, error)
	ListRecent(ctx context.Context, limit int) ([]event.Event, error)
	LatestTick(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) error
}

type GestationRepository interface {
	// Create rejects a second active gestation for the same
	// parent/partner pair with ErrConflict.
	Create(ctx context.Context, g lineage.Gestation) error
	Get(ctx context.Context, id string) (lineage.Gestation, error)
	// ListGestating returns active gestations ordered by ID.
	ListGestating(ctx context.Context) ([]lineage.Gestation, error)
	// Complete flips gestating -> completed exactly once. The second
	// caller gets false, which is what makes spawn idempotent.
	Complete(ctx context.Context, id, offspringAgentID string) (bool, error)
	Fail(ctx context.Context, id string) (bool, error)
	DeleteAll(ctx context.Context) error
}

type LineageRepository interface {
	Create(ctx context.Context, rec lineage.Record) error
	GetByAgent(ctx context.Context, agentID string) (lineage.Record, error)
	ListByParent(ctx context.Context, parentID string) ([]lineage.Record, error)
	DeleteAll(ctx context.Context) error
}

type ExperimentRepository interface {
	CreateExperiment(ctx context.Context, exp experiment.Experiment) error
	GetExperiment(ctx context.Context, id string) (experiment.Experiment, error)
	StartExperiment(ctx context.Context, id string) error
	CompleteExperiment(ctx context.Context, id string) error
	CreateVariant(ctx context.Context, v experiment.Variant) error
	GetVariant(ctx context.Context, id string) (experiment.Variant, error)
	// ListVariants returns the experiment's variants ordered by sequence.
	ListVariants(ctx context.Context, experimentID string) ([]experiment.Variant, error)
	// NextPendingVariant returns the lowest-sequence pending variant or
	// ErrNotFound when none remain.
	NextPendingVariant(ctx context.Context, experimentID string) (experiment.Variant, error)
	// RunningVariant returns the process-wide running variant, if any.
	RunningVariant(ctx context.Context) (experiment.Variant, error)
	// StartVariant moves pending -> running, refusing with ErrConflict
	// while any other variant is running anywhere.
	StartVariant(ctx context.Context, id string, tick int64) error
	// CompleteVariant moves running -> completed exactly once.
	CompleteVariant(ctx context.Context, id string, tick int64) (bool, error)
	DeleteAll(ctx context.Context) error
}

// ClockStateRepository persists the tick counter so a restarted world
// never reuses tick numbers.
type ClockStateRepository interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, tick int64) error
	Reset(ctx context.Context) error
}
