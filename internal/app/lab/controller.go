// Package lab sequences experiment variants over the running world:
// one variant at a time, each under its own seed, each for a fixed
// tick duration, with periodic population snapshots in between.
package lab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/experiment"
)

var ErrInvalidRequest = errors.New("invalid request")

// DefaultSnapshotStride is the tick interval between population
// snapshots when the caller does not set one.
const DefaultSnapshotStride = 10

type Controller struct {
	Experiments ports.ExperimentRepository
	Agents      ports.AgentRepository
	Snapshots   ports.SnapshotSink
	Tx          ports.TxManager
	Log         *zap.Logger
}

type VariantSpec struct {
	Name          string         `json:"name"`
	DurationTicks int64          `json:"duration_ticks"`
	WorldSeed     int64          `json:"world_seed"`
	Config        map[string]any `json:"config,omitempty"`
}

// CreateExperiment records an experiment and its ordered variants in
// one transaction. Nothing starts running until Arm.
func (c *Controller) CreateExperiment(ctx context.Context, name string, specs []VariantSpec) (experiment.Experiment, []experiment.Variant, error) {
	if name == "" {
		return experiment.Experiment{}, nil, fmt.Errorf("%w: experiment name is required", ErrInvalidRequest)
	}
	if len(specs) == 0 {
		return experiment.Experiment{}, nil, fmt.Errorf("%w: at least one variant is required", ErrInvalidRequest)
	}
	for i, vs := range specs {
		if vs.DurationTicks <= 0 {
			return experiment.Experiment{}, nil, fmt.Errorf("%w: variant %d duration must be positive", ErrInvalidRequest, i+1)
		}
	}

	exp := experiment.Experiment{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    experiment.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	variants := make([]experiment.Variant, 0, len(specs))
	for i, vs := range specs {
		vname := vs.Name
		if vname == "" {
			vname = fmt.Sprintf("variant-%d", i+1)
		}
		variants = append(variants, experiment.Variant{
			ID:            fmt.Sprintf("%s-v%d", exp.ID, i+1),
			ExperimentID:  exp.ID,
			Sequence:      i + 1,
			Name:          vname,
			Status:        experiment.StatusPending,
			DurationTicks: vs.DurationTicks,
			WorldSeed:     vs.WorldSeed,
			Config:        vs.Config,
		})
	}

	err := c.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := c.Experiments.CreateExperiment(txCtx, exp); err != nil {
			return err
		}
		for _, v := range variants {
			if err := c.Experiments.CreateVariant(txCtx, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return experiment.Experiment{}, nil, err
	}
	return exp, variants, nil
}

// Arm attaches an experiment to the engine. It validates that no
// foreign variant is running and that work remains, then returns the
// context the tick loop should carry. The first variant is not started
// here; promotion happens on the next lifecycle pass so every
// variant_started event is written by the tick loop.
//
// If a variant of this experiment is already running, for example
// after an engine restart, the returned context adopts it.
func (c *Controller) Arm(ctx context.Context, experimentID string, stride int64) (experiment.Context, error) {
	exp, err := c.Experiments.GetExperiment(ctx, experimentID)
	if err != nil {
		return experiment.Context{}, err
	}
	if exp.Status == experiment.StatusCompleted {
		return experiment.Context{}, fmt.Errorf("%w: experiment %s already completed", ports.ErrConflict, experimentID)
	}
	if stride <= 0 {
		stride = DefaultSnapshotStride
	}

	running, rerr := c.Experiments.RunningVariant(ctx)
	switch {
	case rerr == nil && running.ExperimentID == experimentID:
		start := int64(0)
		if running.StartTick != nil {
			start = *running.StartTick
		}
		return experiment.Context{
			ExperimentID:   experimentID,
			VariantID:      running.ID,
			DurationTicks:  running.DurationTicks,
			StartTick:      start,
			SnapshotStride: stride,
		}, nil
	case rerr == nil:
		return experiment.Context{}, fmt.Errorf("%w: variant %s of experiment %s is running", ports.ErrConflict, running.ID, running.ExperimentID)
	case !errors.Is(rerr, ports.ErrNotFound):
		return experiment.Context{}, rerr
	}

	if _, err := c.Experiments.NextPendingVariant(ctx, experimentID); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return experiment.Context{}, fmt.Errorf("%w: experiment %s has no pending variants", ports.ErrConflict, experimentID)
		}
		return experiment.Context{}, err
	}
	if exp.Status == experiment.StatusPending {
		if err := c.Experiments.StartExperiment(ctx, experimentID); err != nil {
			return experiment.Context{}, err
		}
	}
	return experiment.Context{ExperimentID: experimentID, SnapshotStride: stride}, nil
}

// Step is the outcome of one lifecycle pass. Current is the context
// the tick loop should carry forward; nil means the experiment is
// detached. StopClock asks the caller to pause so the operator or the
// batch driver can reseed the world before the next variant.
type Step struct {
	Current          *experiment.Context
	Events           []event.Event
	StopClock        bool
	StartedVariant   string
	CompletedVariant string
	ExperimentDone   bool
}

// Advance runs the per-tick lifecycle pass: promote a pending variant
// when none is active, capture a snapshot when the stride hits, and
// complete the variant once it has run its duration. Invoked with no
// attached experiment it does nothing; plain simulations run through
// here every tick.
func (c *Controller) Advance(ctx context.Context, cur *experiment.Context, tick int64) (Step, error) {
	var step Step
	if cur == nil {
		return step, nil
	}
	cc := *cur

	if cc.Idle() {
		next, err := c.Experiments.NextPendingVariant(ctx, cc.ExperimentID)
		if errors.Is(err, ports.ErrNotFound) {
			// Completion should have disarmed already; treat as done.
			step.ExperimentDone = true
			return step, nil
		}
		if err != nil {
			step.Current = &cc
			return step, err
		}
		if err := c.Experiments.StartVariant(ctx, next.ID, tick); err != nil {
			step.Current = &cc
			return step, err
		}
		cc.VariantID = next.ID
		cc.DurationTicks = next.DurationTicks
		cc.StartTick = tick
		step.StartedVariant = next.ID
		step.Events = append(step.Events, event.New(event.TypeVariantStarted, tick, "", map[string]any{
			"experiment_id":  cc.ExperimentID,
			"variant_id":     next.ID,
			"variant_name":   next.Name,
			"sequence":       next.Sequence,
			"world_seed":     next.WorldSeed,
			"duration_ticks": next.DurationTicks,
		}))
		c.log().Info("variant started",
			zap.String("experiment_id", cc.ExperimentID),
			zap.String("variant_id", next.ID),
			zap.Int64("tick", tick))
	}

	if cc.SnapshotDue(tick) {
		c.captureSnapshot(ctx, cc, tick)
	}

	if !cc.Due(tick) {
		step.Current = &cc
		return step, nil
	}

	flipped, err := c.Experiments.CompleteVariant(ctx, cc.VariantID, tick)
	if err != nil {
		step.Current = &cc
		return step, err
	}
	if flipped {
		step.CompletedVariant = cc.VariantID
		step.Events = append(step.Events, event.New(event.TypeVariantCompleted, tick, "", map[string]any{
			"experiment_id": cc.ExperimentID,
			"variant_id":    cc.VariantID,
			"start_tick":    cc.StartTick,
			"end_tick":      tick,
		}))
		c.log().Info("variant completed",
			zap.String("experiment_id", cc.ExperimentID),
			zap.String("variant_id", cc.VariantID),
			zap.Int64("tick", tick))
	}
	step.StopClock = true

	if _, nerr := c.Experiments.NextPendingVariant(ctx, cc.ExperimentID); nerr != nil {
		if !errors.Is(nerr, ports.ErrNotFound) {
			step.Current = &cc
			return step, nerr
		}
		if cerr := c.Experiments.CompleteExperiment(ctx, cc.ExperimentID); cerr != nil {
			step.Current = &cc
			return step, cerr
		}
		step.Events = append(step.Events, event.New(event.TypeExperimentCompleted, tick, "", map[string]any{
			"experiment_id": cc.ExperimentID,
			"end_tick":      tick,
		}))
		step.ExperimentDone = true
		c.log().Info("experiment completed",
			zap.String("experiment_id", cc.ExperimentID),
			zap.Int64("tick", tick))
		return step, nil
	}

	// More variants queued: keep the context armed but idle so the next
	// pass promotes the successor.
	cc.VariantID = ""
	cc.DurationTicks = 0
	cc.StartTick = 0
	step.Current = &cc
	return step, nil
}

func (c *Controller) captureSnapshot(ctx context.Context, cc experiment.Context, tick int64) {
	if c.Snapshots == nil {
		return
	}
	all, err := c.Agents.ListAll(ctx)
	if err != nil {
		c.log().Warn("snapshot skipped, agent listing failed",
			zap.Int64("tick", tick), zap.Error(err))
		return
	}
	alive := 0
	for _, ag := range all {
		if ag.Alive() {
			alive++
		}
	}
	snap := ports.PopulationSnapshot{
		ExperimentID: cc.ExperimentID,
		VariantID:    cc.VariantID,
		Tick:         tick,
		TakenAt:      time.Now().UTC(),
		Agents:       all,
		AliveCount:   alive,
		DeadCount:    len(all) - alive,
	}
	if err := c.Snapshots.WriteSnapshot(ctx, snap); err != nil {
		c.log().Warn("snapshot write failed",
			zap.Int64("tick", tick),
			zap.String("variant_id", cc.VariantID),
			zap.Error(err))
	}
}

func (c *Controller) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}
