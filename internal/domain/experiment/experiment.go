package experiment

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Variant and experiment statuses move one way only.
var statusTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusCompleted},
	StatusCompleted: {},
}

func (s Status) CanTransition(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

var ErrBadTransition = errors.New("invalid status transition")

// Experiment groups an ordered set of variants run for A/B comparison.
type Experiment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Variant is one world configuration executed for a fixed tick
// duration under its own seed. Sequence fixes the execution order
// within the experiment.
type Variant struct {
	ID            string         `json:"id"`
	ExperimentID  string         `json:"experiment_id"`
	Sequence      int            `json:"sequence"`
	Name          string         `json:"name"`
	Status        Status         `json:"status"`
	DurationTicks int64          `json:"duration_ticks"`
	StartTick     *int64         `json:"start_tick,omitempty"`
	EndTick       *int64         `json:"end_tick,omitempty"`
	WorldSeed     int64          `json:"world_seed"`
	Config        map[string]any `json:"config,omitempty"`
}

func (v *Variant) Start(tick int64) error {
	if !v.Status.CanTransition(StatusRunning) {
		return fmt.Errorf("%w: %s -> running", ErrBadTransition, v.Status)
	}
	v.Status = StatusRunning
	start := tick
	v.StartTick = &start
	return nil
}

func (v *Variant) Complete(tick int64) error {
	if !v.Status.CanTransition(StatusCompleted) {
		return fmt.Errorf("%w: %s -> completed", ErrBadTransition, v.Status)
	}
	v.Status = StatusCompleted
	end := tick
	v.EndTick = &end
	return nil
}

// Context is the engine-side view of the variant currently driving the
// world. An armed context with an empty VariantID sits between
// variants: the previous one completed and the next is promoted on the
// following lifecycle pass.
type Context struct {
	ExperimentID   string `json:"experiment_id"`
	VariantID      string `json:"variant_id,omitempty"`
	DurationTicks  int64  `json:"duration_ticks,omitempty"`
	StartTick      int64  `json:"start_tick,omitempty"`
	SnapshotStride int64  `json:"snapshot_stride,omitempty"`
}

func (c Context) Idle() bool {
	return c.VariantID == ""
}

// Due reports whether the variant has run its full duration at
// currentTick.
func (c Context) Due(currentTick int64) bool {
	return currentTick-c.StartTick >= c.DurationTicks
}

// SnapshotDue is a fixed tick stride, independent of variant
// boundaries.
func (c Context) SnapshotDue(currentTick int64) bool {
	return c.SnapshotStride > 0 && currentTick%c.SnapshotStride == 0
}
