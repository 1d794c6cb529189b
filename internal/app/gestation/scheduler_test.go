package gestation

import (
	"context"
	"math/rand"
	"testing"

	"go.uber.org/zap"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/lineage"
	"vivarium/internal/domain/world"
)

type stubAgentRepo struct {
	agents  map[string]agent.Agent
	created []agent.Agent
}

func (s *stubAgentRepo) Create(_ context.Context, ag agent.Agent) error {
	if s.agents == nil {
		s.agents = map[string]agent.Agent{}
	}
	s.agents[ag.ID] = ag
	s.created = append(s.created, ag)
	return nil
}

func (s *stubAgentRepo) Get(_ context.Context, id string) (agent.Agent, error) {
	ag, ok := s.agents[id]
	if !ok {
		return agent.Agent{}, ports.ErrNotFound
	}
	return ag, nil
}

func (s *stubAgentRepo) ListAlive(context.Context) ([]agent.Agent, error) { return nil, nil }
func (s *stubAgentRepo) ListAll(context.Context) ([]agent.Agent, error)  { return nil, nil }
func (s *stubAgentRepo) SaveWithVersion(context.Context, agent.Agent, int64) error {
	return nil
}
func (s *stubAgentRepo) DeleteAll(context.Context) error { return nil }

type stubGestationRepo struct {
	active    []lineage.Gestation
	completed map[string]string
	failed    map[string]bool
	denyFlip  bool
	creates   []lineage.Gestation
}

func (s *stubGestationRepo) Create(_ context.Context, g lineage.Gestation) error {
	s.creates = append(s.creates, g)
	return nil
}

func (s *stubGestationRepo) Get(_ context.Context, id string) (lineage.Gestation, error) {
	for _, g := range s.active {
		if g.ID == id {
			return g, nil
		}
	}
	return lineage.Gestation{}, ports.ErrNotFound
}

func (s *stubGestationRepo) ListGestating(context.Context) ([]lineage.Gestation, error) {
	return s.active, nil
}

func (s *stubGestationRepo) Complete(_ context.Context, id, offspringID string) (bool, error) {
	if s.denyFlip {
		return false, nil
	}
	if s.completed == nil {
		s.completed = map[string]string{}
	}
	if _, done := s.completed[id]; done {
		return false, nil
	}
	s.completed[id] = offspringID
	return true, nil
}

func (s *stubGestationRepo) Fail(_ context.Context, id string) (bool, error) {
	if s.failed == nil {
		s.failed = map[string]bool{}
	}
	if s.failed[id] {
		return false, nil
	}
	s.failed[id] = true
	return true, nil
}

func (s *stubGestationRepo) DeleteAll(context.Context) error { return nil }

type stubLineageRepo struct {
	records []lineage.Record
}

func (s *stubLineageRepo) Create(_ context.Context, rec lineage.Record) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *stubLineageRepo) GetByAgent(context.Context, string) (lineage.Record, error) {
	return lineage.Record{}, ports.ErrNotFound
}

func (s *stubLineageRepo) ListByParent(context.Context, string) ([]lineage.Record, error) {
	return nil, nil
}

func (s *stubLineageRepo) DeleteAll(context.Context) error { return nil }

type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestScheduler(agents *stubAgentRepo, gests *stubGestationRepo, lins *stubLineageRepo, seed int64) *Scheduler {
	return &Scheduler{
		Agents:     agents,
		Gestations: gests,
		Lineages:   lins,
		Tx:         passthroughTx{},
		Geography:  world.Geography{Width: 20, Height: 20},
		Rng:        rand.New(rand.NewSource(seed)),
		Log:        zap.NewNop(),
	}
}

func testParent() agent.Agent {
	return agent.Agent{
		ID:        "parent-1",
		Name:      "ada",
		Archetype: agent.ArchetypeForager,
		Brain:     agent.BrainHeuristic,
		Position:  world.Position{X: 5, Y: 5},
		Vitals:    agent.Vitals{Hunger: 60, Energy: 60, Health: 90},
		Status:    agent.StatusIdle,
	}
}

func TestAdvanceSpawnsDueGestation(t *testing.T) {
	parent := testParent()
	agents := &stubAgentRepo{agents: map[string]agent.Agent{parent.ID: parent}}
	g := lineage.NewGestation(parent.ID, "partner-1", 5, 12)
	gests := &stubGestationRepo{active: []lineage.Gestation{g}}
	lins := &stubLineageRepo{}
	s := newTestScheduler(agents, gests, lins, 7)

	rep, err := s.Advance(context.Background(), 17)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(rep.Spawned) != 1 {
		t.Fatalf("spawned %d agents, want 1", len(rep.Spawned))
	}
	child := rep.Spawned[0]
	if child.Generation != parent.Generation+1 {
		t.Fatalf("child generation = %d, want %d", child.Generation, parent.Generation+1)
	}
	if child.BornTick != 17 {
		t.Fatalf("child born tick = %d, want 17", child.BornTick)
	}
	if got := gests.completed[g.ID]; got != child.ID {
		t.Fatalf("gestation completed with offspring %q, want %q", got, child.ID)
	}
	if len(agents.created) != 1 || agents.created[0].ID != child.ID {
		t.Fatalf("agent creates = %d, want exactly the child", len(agents.created))
	}
	if len(lins.records) != 1 || lins.records[0].AgentID != child.ID {
		t.Fatalf("lineage records = %+v, want one for the child", lins.records)
	}
	if len(rep.Events) != 1 || rep.Events[0].Type != event.TypeAgentSpawned {
		t.Fatalf("events = %+v, want one agent_spawned", rep.Events)
	}
	if rep.Events[0].AgentID != child.ID {
		t.Fatalf("spawn event agent = %s, want %s", rep.Events[0].AgentID, child.ID)
	}
	if got := rep.Events[0].Payload["gestation_id"]; got != g.ID {
		t.Fatalf("spawn event gestation_id = %v, want %s", got, g.ID)
	}
	if ids := rep.BirthIDs(); len(ids) != 1 || ids[0] != child.ID {
		t.Fatalf("BirthIDs() = %v, want [%s]", ids, child.ID)
	}
}

func TestAdvanceSkipsGestationNotYetDue(t *testing.T) {
	parent := testParent()
	agents := &stubAgentRepo{agents: map[string]agent.Agent{parent.ID: parent}}
	g := lineage.NewGestation(parent.ID, "", 5, 12)
	gests := &stubGestationRepo{active: []lineage.Gestation{g}}
	s := newTestScheduler(agents, gests, &stubLineageRepo{}, 7)

	rep, err := s.Advance(context.Background(), 16)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(rep.Spawned) != 0 || len(rep.Failed) != 0 || len(rep.Events) != 0 {
		t.Fatalf("expected no activity before due tick, got %+v", rep)
	}
	if len(agents.created) != 0 {
		t.Fatalf("agent created before due tick")
	}
}

func TestAdvanceFailsGestationWhenParentDead(t *testing.T) {
	parent := testParent()
	parent.MarkDead(agent.DeathCauseStarvation, 10)
	agents := &stubAgentRepo{agents: map[string]agent.Agent{parent.ID: parent}}
	g := lineage.NewGestation(parent.ID, "partner-1", 5, 12)
	gests := &stubGestationRepo{active: []lineage.Gestation{g}}
	s := newTestScheduler(agents, gests, &stubLineageRepo{}, 7)

	rep, err := s.Advance(context.Background(), 17)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(rep.Spawned) != 0 {
		t.Fatalf("spawned offspring from a dead parent")
	}
	if len(rep.Failed) != 1 || rep.Failed[0] != g.ID {
		t.Fatalf("failed = %v, want [%s]", rep.Failed, g.ID)
	}
	if !gests.failed[g.ID] {
		t.Fatalf("gestation not transitioned to failed")
	}
	if len(rep.Events) != 1 || rep.Events[0].Type != event.TypeGestationFailed {
		t.Fatalf("events = %+v, want one gestation_failed", rep.Events)
	}
	if got := rep.Events[0].Payload["reason"]; got != "parent dead" {
		t.Fatalf("failure reason = %v", got)
	}
}

func TestAdvanceFailsGestationWhenParentMissing(t *testing.T) {
	agents := &stubAgentRepo{}
	g := lineage.NewGestation("ghost", "", 0, 5)
	gests := &stubGestationRepo{active: []lineage.Gestation{g}}
	s := newTestScheduler(agents, gests, &stubLineageRepo{}, 7)

	rep, err := s.Advance(context.Background(), 5)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(rep.Failed) != 1 || rep.Failed[0] != g.ID {
		t.Fatalf("failed = %v, want [%s]", rep.Failed, g.ID)
	}
}

func TestAdvanceSkipsAlreadyCompletedGestation(t *testing.T) {
	parent := testParent()
	agents := &stubAgentRepo{agents: map[string]agent.Agent{parent.ID: parent}}
	g := lineage.NewGestation(parent.ID, "", 5, 12)
	gests := &stubGestationRepo{active: []lineage.Gestation{g}, denyFlip: true}
	lins := &stubLineageRepo{}
	s := newTestScheduler(agents, gests, lins, 7)

	rep, err := s.Advance(context.Background(), 17)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(rep.Spawned) != 0 || len(rep.Events) != 0 {
		t.Fatalf("duplicate completion produced activity: %+v", rep)
	}
	if len(agents.created) != 0 {
		t.Fatalf("agent created despite completion guard")
	}
	if len(lins.records) != 0 {
		t.Fatalf("lineage recorded despite completion guard")
	}
}

func TestAdvanceDoesNotDuplicateFailureEvents(t *testing.T) {
	parent := testParent()
	parent.MarkDead(agent.DeathCauseExhaustion, 10)
	agents := &stubAgentRepo{agents: map[string]agent.Agent{parent.ID: parent}}
	g := lineage.NewGestation(parent.ID, "", 5, 12)
	gests := &stubGestationRepo{active: []lineage.Gestation{g}}
	s := newTestScheduler(agents, gests, &stubLineageRepo{}, 7)

	if _, err := s.Advance(context.Background(), 17); err != nil {
		t.Fatalf("first Advance: %v", err)
	}
	rep, err := s.Advance(context.Background(), 18)
	if err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if len(rep.Failed) != 0 || len(rep.Events) != 0 {
		t.Fatalf("second scan re-failed the gestation: %+v", rep)
	}
}

func TestAdvanceProcessesGestationsInListOrder(t *testing.T) {
	pa := testParent()
	pa.ID = "agent-a"
	pb := testParent()
	pb.ID = "agent-b"
	pb.Position = world.Position{X: 12, Y: 3}
	agents := &stubAgentRepo{agents: map[string]agent.Agent{pa.ID: pa, pb.ID: pb}}
	ga := lineage.NewGestation(pa.ID, "", 1, 4)
	gb := lineage.NewGestation(pb.ID, "", 2, 3)
	gests := &stubGestationRepo{active: []lineage.Gestation{ga, gb}}
	lins := &stubLineageRepo{}
	s := newTestScheduler(agents, gests, lins, 11)

	rep, err := s.Advance(context.Background(), 5)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(rep.Spawned) != 2 {
		t.Fatalf("spawned %d, want 2", len(rep.Spawned))
	}
	if lins.records[0].ParentID != pa.ID || lins.records[1].ParentID != pb.ID {
		t.Fatalf("lineage order = %s,%s, want %s,%s",
			lins.records[0].ParentID, lins.records[1].ParentID, pa.ID, pb.ID)
	}
}

func TestAdvanceSeededRunsSpawnIdenticalOffspring(t *testing.T) {
	run := func() agent.Agent {
		parent := testParent()
		agents := &stubAgentRepo{agents: map[string]agent.Agent{parent.ID: parent}}
		g := lineage.NewGestation(parent.ID, "partner-1", 5, 12)
		gests := &stubGestationRepo{active: []lineage.Gestation{g}}
		s := newTestScheduler(agents, gests, &stubLineageRepo{}, 99)
		rep, err := s.Advance(context.Background(), 17)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if len(rep.Spawned) != 1 {
			t.Fatalf("spawned %d, want 1", len(rep.Spawned))
		}
		return rep.Spawned[0]
	}

	first := run()
	second := run()
	if first.ID != second.ID {
		t.Fatalf("seeded runs spawned different IDs: %s vs %s", first.ID, second.ID)
	}
	if first.Position != second.Position {
		t.Fatalf("seeded runs spawned at different positions: %+v vs %+v", first.Position, second.Position)
	}
	if first.Archetype != second.Archetype {
		t.Fatalf("seeded runs spawned different archetypes: %s vs %s", first.Archetype, second.Archetype)
	}
}

func TestBeginDelegatesToRepository(t *testing.T) {
	gests := &stubGestationRepo{}
	s := newTestScheduler(&stubAgentRepo{}, gests, &stubLineageRepo{}, 1)
	g := lineage.NewGestation("parent-1", "partner-1", 3, 12)
	if err := s.Begin(context.Background(), g); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if len(gests.creates) != 1 || gests.creates[0].ID != g.ID {
		t.Fatalf("creates = %+v, want %s", gests.creates, g.ID)
	}
}
