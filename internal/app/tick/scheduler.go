// Package tick drives the simulation. The Scheduler advances the world
// one tick at a time through a fixed phase order; the Runner fires it
// on an interval. One tick is the unit of causality: everything an
// agent perceives was true at the start of the tick, everything it
// does lands before the tick closes.
package tick

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vivarium/internal/app/dispatch"
	"vivarium/internal/app/gestation"
	"vivarium/internal/app/lab"
	"vivarium/internal/app/ports"
	"vivarium/internal/app/seed"
	"vivarium/internal/app/worldview"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/experiment"
	"vivarium/internal/domain/world"
)

const (
	// DefaultBatchBudget bounds the whole decision phase of one tick.
	DefaultBatchBudget = 30 * time.Second

	// DefaultRecentEventWindow is how many recent events feed each
	// observation.
	DefaultRecentEventWindow = 20
)

// ErrNotPaused rejects world resets against a running clock.
var ErrNotPaused = errors.New("world must be paused to reset")

// Scheduler is the engine. All world mutation during a tick flows
// through ProcessTick, which holds mu for the duration, so agent state
// has exactly one writer. A second caller arriving mid-tick gets a
// Skipped no-op instead of an interleaved tick.
type Scheduler struct {
	Agents    ports.AgentRepository
	Events    ports.EventLog
	Clock     ports.ClockStateRepository
	Observer  ports.ObservationBuilder
	Executor  ports.ActionExecutor
	Publisher ports.EventPublisher

	Dispatcher *dispatch.Dispatcher
	Gestation  *gestation.Scheduler
	Lab        *lab.Controller
	Seeder     *seed.Seeder
	View       *worldview.Cache

	Geography world.Geography
	Tuning    agent.DecayTuning

	BatchBudget       time.Duration
	RecentEventWindow int

	Metrics ports.EngineMetrics
	Log     *zap.Logger

	mu     sync.Mutex
	tick   atomic.Int64
	paused atomic.Bool

	expMu  sync.Mutex
	expCtx *experiment.Context
}

// Restore loads the persisted clock. The event log wins over the clock
// row when they disagree, so a missed clock save after a crash never
// reuses tick numbers.
func (s *Scheduler) Restore(ctx context.Context) error {
	fromClock, err := s.Clock.Load(ctx)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("load clock: %w", err)
	}
	fromLog, err := s.Events.LatestTick(ctx)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("load latest event tick: %w", err)
	}
	t := fromClock
	if fromLog > t {
		t = fromLog
	}
	s.tick.Store(t)
	s.log().Info("clock restored", zap.Int64("tick", t))
	return nil
}

func (s *Scheduler) CurrentTick() int64 {
	return s.tick.Load()
}

// Pause stops the next tick from doing work. Cooperative: an in-flight
// tick finishes normally.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
}

func (s *Scheduler) Resume() {
	s.paused.Store(false)
}

func (s *Scheduler) IsPaused() bool {
	return s.paused.Load()
}

func (s *Scheduler) SetExperimentContext(cc experiment.Context) {
	s.expMu.Lock()
	defer s.expMu.Unlock()
	s.expCtx = &cc
}

func (s *Scheduler) ClearExperimentContext() {
	s.expMu.Lock()
	defer s.expMu.Unlock()
	s.expCtx = nil
}

// ExperimentContext returns a copy of the attached context, nil when
// the world runs plain.
func (s *Scheduler) ExperimentContext() *experiment.Context {
	s.expMu.Lock()
	defer s.expMu.Unlock()
	if s.expCtx == nil {
		return nil
	}
	cc := *s.expCtx
	return &cc
}

func (s *Scheduler) setExperimentContext(cc *experiment.Context) {
	s.expMu.Lock()
	defer s.expMu.Unlock()
	s.expCtx = cc
}

// AttachExperiment arms an experiment on the engine. The first variant
// starts on the next tick.
func (s *Scheduler) AttachExperiment(ctx context.Context, experimentID string, stride int64) (experiment.Context, error) {
	cc, err := s.Lab.Arm(ctx, experimentID, stride)
	if err != nil {
		return experiment.Context{}, err
	}
	s.SetExperimentContext(cc)
	s.log().Info("experiment attached",
		zap.String("experiment_id", experimentID),
		zap.Int64("snapshot_stride", cc.SnapshotStride))
	return cc, nil
}

func (s *Scheduler) DetachExperiment() {
	s.ClearExperimentContext()
}

// ResetWorld wipes run state and reseeds founders under the given
// seed. Only allowed while paused; it waits out any in-flight tick and
// rewinds the counter to zero. The attached experiment context, if
// any, survives: resets are how the batch driver moves between
// variants.
func (s *Scheduler) ResetWorld(ctx context.Context, worldSeed int64, founders int, brain agent.Brain) ([]agent.Agent, error) {
	if !s.paused.Load() {
		return nil, ErrNotPaused
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ags, rng, err := s.Seeder.ResetWorld(ctx, worldSeed, founders, brain)
	if err != nil {
		return nil, err
	}
	s.tick.Store(0)
	if s.Gestation != nil {
		s.Gestation.Rng = rng
	}
	s.refreshView(ctx, &TickResult{Tick: 0})
	return ags, nil
}

// ProcessTick advances the world by exactly one tick:
//
//  1. advance the clock and open with tick_start
//  2. build observations and dispatch decisions for every live agent
//  3. apply the resulting intents in stable agent order
//  4. apply survival decay, recording deaths
//  5. run the gestation and experiment schedulers
//  6. close with tick_end and persist the clock
//
// Paused worlds and in-flight ticks are no-ops that leave the counter
// untouched. Event append failures are logged and counted, never
// fatal: the tick always completes once opened.
func (s *Scheduler) ProcessTick(ctx context.Context) (TickResult, error) {
	if !s.mu.TryLock() {
		return TickResult{Tick: s.tick.Load(), Skipped: true}, nil
	}
	defer s.mu.Unlock()

	if s.paused.Load() {
		return TickResult{Tick: s.tick.Load(), Paused: true}, nil
	}
	return s.run(ctx)
}

// Step advances exactly one tick regardless of the pause flag. Unlike
// ProcessTick it waits out an in-flight tick instead of skipping, so an
// operator stepping a paused world always gets a fresh tick back.
func (s *Scheduler) Step(ctx context.Context) (TickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) (TickResult, error) {
	start := time.Now()
	next := s.tick.Load() + 1

	// Read everything the tick needs before emitting anything, so a
	// storage outage aborts cleanly with no half-open tick.
	alive, err := s.Agents.ListAlive(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("list live agents: %w", err)
	}
	recent := s.recentEvents(ctx)

	s.tick.Store(next)
	res := TickResult{Tick: next, AgentCount: len(alive)}

	s.append(ctx, &res, event.New(event.TypeTickStart, next, "", nil))

	// Decide.
	jobs := make([]dispatch.Job, 0, len(alive))
	for _, ag := range alive {
		jobs = append(jobs, dispatch.Job{
			AgentID:     ag.ID,
			Tick:        next,
			Brain:       ag.Brain,
			Observation: s.Observer.Build(ag, next, alive, s.Geography, recent),
		})
	}
	results := s.Dispatcher.DispatchAll(ctx, jobs, s.batchBudget())
	byAgent := make(map[string]dispatch.Result, len(results))
	for _, r := range results {
		byAgent[r.AgentID] = r
	}

	// Apply in stable agent order regardless of decision completion
	// order.
	states := make(map[string]agent.Agent, len(alive))
	for _, ag := range alive {
		states[ag.ID] = ag
		r, ok := byAgent[ag.ID]
		if !ok {
			// Dispatcher totality makes this unreachable; tolerate it
			// as a skipped agent rather than a crash.
			s.recordAgentError(&res, ag.ID, "no decision result")
			continue
		}
		if r.UsedFallback {
			res.Fallbacks++
		}
		s.applyIntent(ctx, &res, states, ag, r)
	}

	// Decay, then persist each agent exactly once.
	for _, ag := range alive {
		d := agent.Decay(states[ag.ID], next, s.Tuning)
		states[ag.ID] = d.Next
		if d.Died {
			res.Deaths = append(res.Deaths, ag.ID)
			for _, evt := range d.Events {
				s.append(ctx, &res, evt)
			}
		}
		if err := s.Agents.SaveWithVersion(ctx, d.Next, ag.Version); err != nil {
			s.log().Warn("agent save failed",
				zap.String("agent_id", ag.ID),
				zap.Int64("tick", next),
				zap.Error(err))
		}
	}

	// Auxiliary schedulers.
	if s.Gestation != nil {
		rep, gerr := s.Gestation.Advance(ctx, next)
		if gerr != nil {
			s.log().Warn("gestation scan failed", zap.Int64("tick", next), zap.Error(gerr))
		}
		for _, evt := range rep.Events {
			s.append(ctx, &res, evt)
		}
		res.Births = rep.BirthIDs()
	}
	if s.Lab != nil {
		step, lerr := s.Lab.Advance(ctx, s.ExperimentContext(), next)
		if lerr != nil {
			s.log().Warn("experiment lifecycle pass failed", zap.Int64("tick", next), zap.Error(lerr))
		}
		for _, evt := range step.Events {
			s.append(ctx, &res, evt)
		}
		s.setExperimentContext(step.Current)
		if step.StopClock {
			s.paused.Store(true)
			res.StopClock = true
			s.log().Info("clock stopped by experiment lifecycle",
				zap.Int64("tick", next),
				zap.String("completed_variant", step.CompletedVariant),
				zap.Bool("experiment_done", step.ExperimentDone))
		}
	}

	s.append(ctx, &res, event.New(event.TypeTickEnd, next, "", map[string]any{
		"actions": res.ActionsExecuted,
		"deaths":  len(res.Deaths),
		"births":  len(res.Births),
	}))

	if err := s.Clock.Save(ctx, next); err != nil {
		s.log().Warn("clock save failed", zap.Int64("tick", next), zap.Error(err))
	}

	res.Duration = time.Since(start)
	s.metrics().RecordTick(res.Duration, len(alive), res.ActionsExecuted, len(res.Deaths), len(res.Births))
	s.refreshView(ctx, &res)

	s.log().Debug("tick processed",
		zap.Int64("tick", next),
		zap.Duration("duration", res.Duration),
		zap.Int("agents", len(alive)),
		zap.Int("actions", res.ActionsExecuted),
		zap.Int("fallbacks", res.Fallbacks),
		zap.Int("deaths", len(res.Deaths)),
		zap.Int("births", len(res.Births)))
	return res, nil
}

// applyIntent executes one agent's decided action and records the
// outcome. Failures are per-agent: they land in AgentErrors and never
// disturb the rest of the tick.
func (s *Scheduler) applyIntent(ctx context.Context, res *TickResult, states map[string]agent.Agent, ag agent.Agent, r dispatch.Result) {
	outcome, err := s.Executor.Execute(ctx, r.Intent, states[ag.ID], s.Geography, res.Tick)
	if err != nil {
		s.recordAgentError(res, ag.ID, err.Error())
		return
	}
	if !outcome.Success {
		code := outcome.FailureCode
		if code == "" {
			code = "action_failed"
		}
		s.recordAgentError(res, ag.ID, code)
		return
	}

	if outcome.Gestation != nil {
		if s.Gestation == nil {
			s.recordAgentError(res, ag.ID, "gestation_unavailable")
			return
		}
		if err := s.Gestation.Begin(ctx, *outcome.Gestation); err != nil {
			if errors.Is(err, ports.ErrConflict) {
				s.recordAgentError(res, ag.ID, "already_gestating")
			} else {
				s.log().Warn("gestation begin failed",
					zap.String("agent_id", ag.ID), zap.Error(err))
				s.recordAgentError(res, ag.ID, "gestation_unavailable")
			}
			return
		}
	}

	states[ag.ID] = outcome.Updated
	res.ActionsExecuted++

	payload := map[string]any{
		"action":        string(r.Intent.Action),
		"used_fallback": r.UsedFallback,
		"state_after":   outcome.Updated.StatePayload(),
	}
	if p := r.Intent.Params(); p != nil {
		payload["params"] = p
	}
	if r.Intent.Reason != "" {
		payload["reason"] = r.Intent.Reason
	}
	s.append(ctx, res, event.New(event.TypeAgentAction, res.Tick, ag.ID, payload))

	if g := outcome.Gestation; g != nil {
		s.append(ctx, res, event.New(event.TypeGestationStarted, res.Tick, g.ParentAgentID, map[string]any{
			"gestation_id": g.ID,
			"partner_id":   g.PartnerAgentID,
			"due_tick":     g.StartTick + g.DurationTicks,
		}))
	}
	for _, evt := range outcome.Events {
		s.append(ctx, res, evt)
	}
}

// append publishes the event to live subscribers first, then makes it
// durable. Publish is unconditional: a store outage must not blind
// dashboards. Append failures are counted and swallowed; only events
// that actually landed reach res.Events.
func (s *Scheduler) append(ctx context.Context, res *TickResult, evt event.Event) {
	if s.Publisher != nil {
		s.Publisher.Publish(evt)
	}
	stored, err := s.Events.Append(ctx, evt)
	if err != nil && !errors.Is(err, ports.ErrAlreadyRecorded) {
		s.metrics().RecordAppendFailure()
		s.log().Warn("event append failed",
			zap.String("event_type", evt.Type),
			zap.Int64("tick", evt.Tick),
			zap.Error(err))
		return
	}
	res.Events = append(res.Events, stored)
}

func (s *Scheduler) recordAgentError(res *TickResult, agentID, msg string) {
	if res.AgentErrors == nil {
		res.AgentErrors = map[string]string{}
	}
	res.AgentErrors[agentID] = msg
}

func (s *Scheduler) recentEvents(ctx context.Context) []event.Event {
	window := s.RecentEventWindow
	if window <= 0 {
		window = DefaultRecentEventWindow
	}
	recent, err := s.Events.ListRecent(ctx, window)
	if err != nil {
		s.log().Warn("recent events unavailable, observations degrade", zap.Error(err))
		return nil
	}
	return recent
}

func (s *Scheduler) refreshView(ctx context.Context, res *TickResult) {
	if s.View == nil {
		return
	}
	all, err := s.Agents.ListAll(ctx)
	if err != nil {
		s.log().Warn("world view refresh failed", zap.Error(err))
		return
	}
	sums, aliveCount, deadCount := worldview.Summarize(all)
	s.View.Update(worldview.Summary{
		Tick:           res.Tick,
		Paused:         s.paused.Load(),
		AliveCount:     aliveCount,
		DeadCount:      deadCount,
		LastDurationMs: res.Duration.Milliseconds(),
		LastActions:    res.ActionsExecuted,
		LastFallbacks:  res.Fallbacks,
		LastDeaths:     res.Deaths,
		LastBirths:     res.Births,
		Experiment:     s.ExperimentContext(),
		Agents:         sums,
		UpdatedAt:      time.Now().UTC(),
	})
}

func (s *Scheduler) batchBudget() time.Duration {
	if s.BatchBudget > 0 {
		return s.BatchBudget
	}
	return DefaultBatchBudget
}

func (s *Scheduler) metrics() ports.EngineMetrics {
	if s.Metrics != nil {
		return s.Metrics
	}
	return ports.NoopMetrics{}
}

func (s *Scheduler) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}
