package memory

import (
	"context"
	"sort"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/lineage"
)

type LineageRepo struct {
	store *Store
}

func NewLineageRepo(store *Store) LineageRepo {
	return LineageRepo{store: store}
}

func (r LineageRepo) Create(_ context.Context, rec lineage.Record) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.lineage[rec.AgentID]; exists {
		return ports.ErrConflict
	}
	r.store.lineage[rec.AgentID] = rec
	return nil
}

func (r LineageRepo) GetByAgent(_ context.Context, agentID string) (lineage.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.lineage[agentID]
	if !ok {
		return lineage.Record{}, ports.ErrNotFound
	}
	return rec, nil
}

func (r LineageRepo) ListByParent(_ context.Context, parentID string) ([]lineage.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []lineage.Record
	for _, rec := range r.store.lineage {
		if rec.ParentID == parentID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpawnTick != out[j].SpawnTick {
			return out[i].SpawnTick < out[j].SpawnTick
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}

func (r LineageRepo) DeleteAll(_ context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.lineage = make(map[string]lineage.Record)
	return nil
}
