package memory

import (
	"context"
	"sort"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/agent"
)

type AgentRepo struct {
	store *Store
}

func NewAgentRepo(store *Store) AgentRepo {
	return AgentRepo{store: store}
}

func (r AgentRepo) Create(_ context.Context, ag agent.Agent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.agents[ag.ID]; exists {
		return ports.ErrConflict
	}
	r.store.agents[ag.ID] = ag.Clone()
	return nil
}

func (r AgentRepo) Get(_ context.Context, id string) (agent.Agent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ag, ok := r.store.agents[id]
	if !ok {
		return agent.Agent{}, ports.ErrNotFound
	}
	return ag.Clone(), nil
}

func (r AgentRepo) ListAlive(_ context.Context) ([]agent.Agent, error) {
	return r.list(func(ag agent.Agent) bool { return ag.Status != agent.StatusDead })
}

func (r AgentRepo) ListAll(_ context.Context) ([]agent.Agent, error) {
	return r.list(func(agent.Agent) bool { return true })
}

func (r AgentRepo) list(keep func(agent.Agent) bool) ([]agent.Agent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]agent.Agent, 0, len(r.store.agents))
	for _, ag := range r.store.agents {
		if keep(ag) {
			out = append(out, ag.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r AgentRepo) SaveWithVersion(_ context.Context, ag agent.Agent, expectedVersion int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.agents[ag.ID]
	if !ok {
		return ports.ErrNotFound
	}
	if current.Version != expectedVersion {
		return ports.ErrConflict
	}
	r.store.agents[ag.ID] = ag.Clone()
	return nil
}

func (r AgentRepo) DeleteAll(_ context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.agents = make(map[string]agent.Agent)
	return nil
}
