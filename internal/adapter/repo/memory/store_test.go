package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/experiment"
	"vivarium/internal/domain/lineage"
)

func TestEventLogConcurrentAppendsStayContiguous(t *testing.T) {
	log := NewEventLog(NewStore())
	ctx := context.Background()

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := log.Append(ctx, event.New("probe", int64(i), "", nil)); err != nil {
					t.Errorf("worker %d append %d: %v", w, i, err)
				}
			}
		}(w)
	}
	wg.Wait()

	all, err := log.ListRecent(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != workers*perWorker {
		t.Fatalf("stored %d events, want %d", len(all), workers*perWorker)
	}
	versions := make([]int64, len(all))
	for i, e := range all {
		versions[i] = e.Version
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for i, v := range versions {
		if v != int64(i)+1 {
			t.Fatalf("version gap at %d: got %d", i, v)
		}
	}
}

func TestEventLogDuplicateIDReturnsStoredEvent(t *testing.T) {
	log := NewEventLog(NewStore())
	ctx := context.Background()

	evt := event.New(event.TypeAgentAction, 3, "a-1", map[string]any{"action": "move"})
	first, err := log.Append(ctx, evt)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	again, err := log.Append(ctx, evt)
	if !errors.Is(err, ports.ErrAlreadyRecorded) {
		t.Fatalf("duplicate append: got %v", err)
	}
	if again.Version != first.Version {
		t.Fatalf("duplicate version %d, stored %d", again.Version, first.Version)
	}
	all, _ := log.ListByAgent(ctx, "a-1", 0)
	if len(all) != 1 {
		t.Fatalf("duplicate was stored: %d events", len(all))
	}
}

func TestEventLogReadsFilterAndOrder(t *testing.T) {
	log := NewEventLog(NewStore())
	ctx := context.Background()

	for tick := int64(1); tick <= 4; tick++ {
		if _, err := log.Append(ctx, event.New(event.TypeTickStart, tick, "", nil)); err != nil {
			t.Fatalf("append start %d: %v", tick, err)
		}
		if _, err := log.Append(ctx, event.New(event.TypeAgentAction, tick, "a-1", nil)); err != nil {
			t.Fatalf("append action %d: %v", tick, err)
		}
	}

	byType, err := log.ListByType(ctx, event.TypeTickStart, 0)
	if err != nil || len(byType) != 4 {
		t.Fatalf("by type: %d events, err %v", len(byType), err)
	}
	for i := 1; i < len(byType); i++ {
		if byType[i].Version <= byType[i-1].Version {
			t.Fatalf("by type not ascending")
		}
	}

	window, err := log.ListByTickRange(ctx, 2, 3, 0)
	if err != nil || len(window) != 4 {
		t.Fatalf("tick range: %d events, err %v", len(window), err)
	}

	capped, err := log.ListByAgent(ctx, "a-1", 2)
	if err != nil || len(capped) != 2 {
		t.Fatalf("capped list: %d events, err %v", len(capped), err)
	}

	recent, err := log.ListRecent(ctx, 3)
	if err != nil || len(recent) != 3 {
		t.Fatalf("recent: %d events, err %v", len(recent), err)
	}
	if recent[0].Version <= recent[1].Version {
		t.Fatalf("recent not descending")
	}

	latest, err := log.LatestTick(ctx)
	if err != nil || latest != 4 {
		t.Fatalf("latest tick = %d, err %v", latest, err)
	}

	if err := log.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	latest, err = log.LatestTick(ctx)
	if err != nil || latest != 0 {
		t.Fatalf("latest after wipe = %d, err %v", latest, err)
	}
}

func TestAgentRepoVersionGuard(t *testing.T) {
	repo := NewAgentRepo(NewStore())
	ctx := context.Background()

	seed := agent.Agent{
		ID:        "a-1",
		Status:    agent.StatusIdle,
		Inventory: map[string]int{"food": 1},
	}
	if err := repo.Create(ctx, seed); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, seed); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("duplicate create: got %v", err)
	}

	got, err := repo.Get(ctx, "a-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Inventory["food"] = 99
	fresh, _ := repo.Get(ctx, "a-1")
	if fresh.Inventory["food"] != 1 {
		t.Fatalf("stored agent aliases caller inventory")
	}

	up := fresh.Clone()
	up.Version = 1
	if err := repo.SaveWithVersion(ctx, up, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SaveWithVersion(ctx, up, 0); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("stale save: got %v", err)
	}
	up.ID = "a-missing"
	if err := repo.SaveWithVersion(ctx, up, 1); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("missing save: got %v", err)
	}
}

func TestAgentRepoListAliveOrdersAndExcludesDead(t *testing.T) {
	repo := NewAgentRepo(NewStore())
	ctx := context.Background()

	for _, id := range []string{"a-3", "a-1", "a-2"} {
		if err := repo.Create(ctx, agent.Agent{ID: id, Status: agent.StatusIdle}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	dead, _ := repo.Get(ctx, "a-2")
	dead.MarkDead(agent.DeathCauseStarvation, 5)
	dead.Version = 1
	if err := repo.SaveWithVersion(ctx, dead, 0); err != nil {
		t.Fatalf("save dead: %v", err)
	}

	alive, err := repo.ListAlive(ctx)
	if err != nil {
		t.Fatalf("list alive: %v", err)
	}
	if len(alive) != 2 || alive[0].ID != "a-1" || alive[1].ID != "a-3" {
		t.Fatalf("alive = %+v", alive)
	}
	all, _ := repo.ListAll(ctx)
	if len(all) != 3 {
		t.Fatalf("all = %d agents", len(all))
	}
}

func TestGestationRepoPairGuardAndFlips(t *testing.T) {
	repo := NewGestationRepo(NewStore())
	ctx := context.Background()

	g := lineage.NewGestation("a-1", "a-2", 10, 12)
	if err := repo.Create(ctx, g); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, lineage.NewGestation("a-1", "a-2", 11, 12)); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("active pair duplicated: got %v", err)
	}
	// Same parent, different partner is a separate gestation.
	if err := repo.Create(ctx, lineage.NewGestation("a-1", "a-3", 11, 12)); err != nil {
		t.Fatalf("different partner: %v", err)
	}

	flipped, err := repo.Complete(ctx, g.ID, "child-1")
	if err != nil || !flipped {
		t.Fatalf("complete: flipped=%v err=%v", flipped, err)
	}
	flipped, err = repo.Complete(ctx, g.ID, "child-2")
	if err != nil || flipped {
		t.Fatalf("second complete: flipped=%v err=%v", flipped, err)
	}
	stored, _ := repo.Get(ctx, g.ID)
	if stored.OffspringAgentID != "child-1" {
		t.Fatalf("loser overwrote offspring: %s", stored.OffspringAgentID)
	}

	if _, err := repo.Fail(ctx, "gest-unknown-0"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("fail missing: got %v", err)
	}

	active, _ := repo.ListGestating(ctx)
	if len(active) != 1 {
		t.Fatalf("gestating = %d, want 1", len(active))
	}
}

func TestExperimentRepoSerialVariantRuns(t *testing.T) {
	repo := NewExperimentRepo(NewStore())
	ctx := context.Background()

	exp := experiment.Experiment{ID: "exp-1", Name: "ab", Status: experiment.StatusPending}
	if err := repo.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	for i := 1; i <= 2; i++ {
		v := experiment.Variant{
			ID:            "v-" + string(rune('0'+i)),
			ExperimentID:  exp.ID,
			Sequence:      i,
			Status:        experiment.StatusPending,
			DurationTicks: 10,
		}
		if err := repo.CreateVariant(ctx, v); err != nil {
			t.Fatalf("create variant %d: %v", i, err)
		}
	}

	if err := repo.StartExperiment(ctx, exp.ID); err != nil {
		t.Fatalf("start experiment: %v", err)
	}
	// Starting an experiment that is already running is benign.
	if err := repo.StartExperiment(ctx, exp.ID); err != nil {
		t.Fatalf("repeat start experiment: %v", err)
	}

	next, err := repo.NextPendingVariant(ctx, exp.ID)
	if err != nil || next.Sequence != 1 {
		t.Fatalf("next pending = %+v, err %v", next, err)
	}
	if err := repo.StartVariant(ctx, next.ID, 5); err != nil {
		t.Fatalf("start v1: %v", err)
	}
	if err := repo.StartVariant(ctx, "v-2", 5); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("overlapping start: got %v", err)
	}

	running, err := repo.RunningVariant(ctx)
	if err != nil || running.ID != next.ID || *running.StartTick != 5 {
		t.Fatalf("running = %+v, err %v", running, err)
	}

	flipped, err := repo.CompleteVariant(ctx, next.ID, 15)
	if err != nil || !flipped {
		t.Fatalf("complete v1: flipped=%v err=%v", flipped, err)
	}
	flipped, err = repo.CompleteVariant(ctx, next.ID, 16)
	if err != nil || flipped {
		t.Fatalf("double complete: flipped=%v err=%v", flipped, err)
	}
	done, _ := repo.GetVariant(ctx, next.ID)
	if *done.EndTick != 15 {
		t.Fatalf("loser overwrote end tick: %d", *done.EndTick)
	}

	if err := repo.StartVariant(ctx, "v-2", 16); err != nil {
		t.Fatalf("start v2: %v", err)
	}
	if _, err := repo.NextPendingVariant(ctx, exp.ID); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("pending after both started: got %v", err)
	}
	if _, err := repo.CompleteVariant(ctx, "v-2", 26); err != nil {
		t.Fatalf("complete v2: %v", err)
	}
	if err := repo.CompleteExperiment(ctx, exp.ID); err != nil {
		t.Fatalf("complete experiment: %v", err)
	}
	if err := repo.StartExperiment(ctx, exp.ID); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("restart completed experiment: got %v", err)
	}
}

func TestLineageRepoOrdersChildrenBySpawnTick(t *testing.T) {
	repo := NewLineageRepo(NewStore())
	ctx := context.Background()

	recs := []lineage.Record{
		{ID: "lin-c", AgentID: "c", ParentID: "p", SpawnTick: 30},
		{ID: "lin-a", AgentID: "a", ParentID: "p", SpawnTick: 10},
		{ID: "lin-b", AgentID: "b", ParentID: "p", SpawnTick: 20},
	}
	for _, rec := range recs {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", rec.AgentID, err)
		}
	}
	if err := repo.Create(ctx, recs[0]); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("duplicate record: got %v", err)
	}

	kids, err := repo.ListByParent(ctx, "p")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(kids) != 3 || kids[0].AgentID != "a" || kids[2].AgentID != "c" {
		t.Fatalf("children = %+v", kids)
	}
	if _, err := repo.GetByAgent(ctx, "nobody"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("missing record: got %v", err)
	}
}

func TestClockRepoLoadSaveReset(t *testing.T) {
	repo := NewClockRepo(NewStore())
	ctx := context.Background()

	if _, err := repo.Load(ctx); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("empty load: got %v", err)
	}
	if err := repo.Save(ctx, 17); err != nil {
		t.Fatalf("save: %v", err)
	}
	tick, err := repo.Load(ctx)
	if err != nil || tick != 17 {
		t.Fatalf("load = %d, err %v", tick, err)
	}
	if err := repo.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	tick, err = repo.Load(ctx)
	if err != nil || tick != 0 {
		t.Fatalf("load after reset = %d, err %v", tick, err)
	}
}

func TestTxManagerPassesErrorThrough(t *testing.T) {
	store := NewStore()
	tx := NewTxManager(store)
	repo := NewAgentRepo(store)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := repo.Create(txCtx, agent.Agent{ID: "a-1", Status: agent.StatusIdle}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("tx error = %v", err)
	}
}
