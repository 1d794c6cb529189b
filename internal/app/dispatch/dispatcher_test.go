package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"vivarium/internal/adapter/backend/scripted"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/decision"
	"vivarium/internal/domain/world"
)

func jobWithVitals(id string, hunger, energy, health float64) Job {
	return Job{
		AgentID: id,
		Tick:    1,
		Brain:   agent.BrainScripted,
		Observation: decision.Observation{
			AgentID: id,
			Tick:    1,
			Self: decision.ObservedSelf{
				Vitals: agent.Vitals{Hunger: hunger, Energy: energy, Health: health},
			},
			Geography: world.Geography{Width: 20, Height: 20},
		},
	}
}

func TestPriorityFor(t *testing.T) {
	cases := []struct {
		vitals agent.Vitals
		want   int
	}{
		{agent.Vitals{Hunger: 5, Energy: 50, Health: 100}, PriorityCritical},
		{agent.Vitals{Hunger: 50, Energy: 50, Health: 10}, PriorityCritical},
		{agent.Vitals{Hunger: 25, Energy: 50, Health: 100}, PriorityUrgent},
		{agent.Vitals{Hunger: 50, Energy: 15, Health: 100}, PriorityUrgent},
		{agent.Vitals{Hunger: 80, Energy: 80, Health: 100}, PriorityNormal},
	}
	for i, tc := range cases {
		if got := PriorityFor(tc.vitals); got != tc.want {
			t.Fatalf("case %d: priority = %d, want %d", i, got, tc.want)
		}
	}
}

func TestDispatchAllEmptyJobs(t *testing.T) {
	d := New(scripted.New(), nil)
	res := d.DispatchAll(context.Background(), nil, time.Second)
	if len(res) != 0 {
		t.Fatalf("expected empty result slice, got %d", len(res))
	}
}

func TestDispatchAllReturnsOneResultPerJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	be := scripted.New()
	be.Script = func(context.Context, decision.Observation) (decision.Intent, error) {
		return decision.Intent{Action: decision.ActionIdle}, nil
	}
	d := New(be, nil)

	jobs := []Job{
		jobWithVitals("a-1", 80, 80, 100),
		jobWithVitals("a-2", 80, 80, 100),
		jobWithVitals("a-3", 80, 80, 100),
	}
	res := d.DispatchAll(context.Background(), jobs, time.Second)
	if len(res) != 3 {
		t.Fatalf("got %d results, want 3", len(res))
	}
	for _, r := range res {
		if r.UsedFallback {
			t.Fatalf("healthy backend should not fall back: %+v", r)
		}
		if r.Intent.Action != decision.ActionIdle {
			t.Fatalf("intent not from backend: %+v", r.Intent)
		}
	}
}

func TestDispatchAllFallsBackWhenEveryCallFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	be := scripted.New()
	be.Script = func(context.Context, decision.Observation) (decision.Intent, error) {
		return decision.Intent{}, errors.New("boom")
	}
	d := New(be, nil)
	d.Backoff = time.Millisecond

	jobs := []Job{
		jobWithVitals("a-1", 80, 80, 100),
		jobWithVitals("a-2", 80, 80, 100),
	}
	res := d.DispatchAll(context.Background(), jobs, time.Second)
	if len(res) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(res), len(jobs))
	}
	for _, r := range res {
		if !r.UsedFallback {
			t.Fatalf("expected fallback: %+v", r)
		}
		if r.Attempts != DefaultMaxAttempts {
			t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, r.Attempts)
		}
		if err := decision.Validate(r.Intent); err != nil {
			t.Fatalf("fallback intent invalid: %v", err)
		}
	}
}

func TestDispatchAllTimeoutProducesFallbackNearDeadline(t *testing.T) {
	defer goleak.VerifyNone(t)

	be := scripted.New()
	be.Script = func(ctx context.Context, _ decision.Observation) (decision.Intent, error) {
		<-ctx.Done()
		return decision.Intent{}, ctx.Err()
	}
	d := New(be, nil)
	d.PerJobTimeout = 80 * time.Millisecond

	job := jobWithVitals("a-1", 5, 50, 100)
	res := d.DispatchAll(context.Background(), []Job{job}, 300*time.Millisecond)
	if len(res) != 1 {
		t.Fatalf("got %d results", len(res))
	}
	r := res[0]
	if !r.UsedFallback {
		t.Fatalf("expected fallback on timeout")
	}
	if r.ProcessingTime < 70*time.Millisecond {
		t.Fatalf("processing time %v should be near the per-job timeout", r.ProcessingTime)
	}
	if err := decision.Validate(r.Intent); err != nil {
		t.Fatalf("fallback intent invalid: %v", err)
	}
	// hunger=5 with no food held: the heuristic goes foraging.
	if r.Intent.Action != decision.ActionForage {
		t.Fatalf("expected forage for a starving agent, got %+v", r.Intent)
	}
}

func TestDispatchAllBatchBudgetResolvesPendingJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	be := scripted.New()
	be.Script = func(ctx context.Context, _ decision.Observation) (decision.Intent, error) {
		<-ctx.Done()
		return decision.Intent{}, ctx.Err()
	}
	d := New(be, nil)
	d.Workers = 1
	d.PerJobTimeout = 5 * time.Second

	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = jobWithVitals(string(rune('a'+i))+"-agent", 80, 80, 100)
	}
	start := time.Now()
	res := d.DispatchAll(context.Background(), jobs, 100*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("dispatch overran the batch budget: %v", elapsed)
	}
	if len(res) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(res), len(jobs))
	}
	for _, r := range res {
		if !r.UsedFallback {
			t.Fatalf("all jobs should have fallen back: %+v", r)
		}
	}
}

func TestDispatchAllUnavailableBackendSkipsCall(t *testing.T) {
	be := scripted.New()
	be.Unavailable = true
	d := New(be, nil)

	res := d.DispatchAll(context.Background(), []Job{jobWithVitals("a-1", 80, 80, 100)}, time.Second)
	if !res[0].UsedFallback || res[0].Attempts != 0 {
		t.Fatalf("unavailable backend should fall back without attempts: %+v", res[0])
	}
	if len(be.Calls()) != 0 {
		t.Fatalf("Decide must not be called when unavailable")
	}
}

func TestDispatchAllOfflineModeNeverTouchesBackend(t *testing.T) {
	be := scripted.New()
	d := New(be, nil)
	d.Offline = true

	res := d.DispatchAll(context.Background(), []Job{jobWithVitals("a-1", 80, 80, 100)}, time.Second)
	if !res[0].UsedFallback || res[0].Err != "" {
		t.Fatalf("offline fallback is not an error: %+v", res[0])
	}
	if len(be.Calls()) != 0 {
		t.Fatalf("offline mode must not call the backend")
	}
}

func TestDispatchAllRetriesBeforeFallingBack(t *testing.T) {
	calls := 0
	be := scripted.New()
	be.Script = func(context.Context, decision.Observation) (decision.Intent, error) {
		calls++
		if calls == 1 {
			return decision.Intent{}, errors.New("transient")
		}
		return decision.Intent{Action: decision.ActionRest}, nil
	}
	d := New(be, nil)
	d.Workers = 1
	d.Backoff = time.Millisecond

	res := d.DispatchAll(context.Background(), []Job{jobWithVitals("a-1", 80, 80, 100)}, time.Second)
	r := res[0]
	if r.UsedFallback {
		t.Fatalf("retry should have recovered: %+v", r)
	}
	if r.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", r.Attempts)
	}
}

func TestDispatchAllRejectsMalformedBackendDecision(t *testing.T) {
	be := scripted.New()
	be.Script = func(context.Context, decision.Observation) (decision.Intent, error) {
		return decision.Intent{Action: "warp", DX: 99}, nil
	}
	d := New(be, nil)
	d.Backoff = time.Millisecond

	res := d.DispatchAll(context.Background(), []Job{jobWithVitals("a-1", 80, 80, 100)}, time.Second)
	if !res[0].UsedFallback {
		t.Fatalf("malformed decision must fall back: %+v", res[0])
	}
}

func TestDispatchAllPriorityOrderUnderSaturation(t *testing.T) {
	be := scripted.New()
	be.Script = func(context.Context, decision.Observation) (decision.Intent, error) {
		return decision.Intent{Action: decision.ActionIdle}, nil
	}
	d := New(be, nil)
	d.Workers = 1

	jobs := []Job{
		jobWithVitals("norm-1", 80, 80, 100),
		jobWithVitals("crit-1", 5, 50, 100),
		jobWithVitals("urg-1", 25, 50, 100),
		jobWithVitals("crit-0", 50, 50, 10),
	}
	d.DispatchAll(context.Background(), jobs, time.Second)

	got := be.Calls()
	want := []string{"crit-0", "crit-1", "urg-1", "norm-1"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", got, want)
		}
	}
}

func TestDispatchAllJobForDeadAgentStillResolves(t *testing.T) {
	// The dispatcher must not assume the agent is alive; the caller
	// discards stale results.
	be := scripted.New()
	d := New(be, nil)
	d.Offline = true

	j := jobWithVitals("gone-1", 0, 0, 0)
	j.Observation.Self.Status = string(agent.StatusDead)
	res := d.DispatchAll(context.Background(), []Job{j}, time.Second)
	if len(res) != 1 || res[0].AgentID != "gone-1" {
		t.Fatalf("dead agent job must still produce a result: %+v", res)
	}
}
