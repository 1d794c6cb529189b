package memory

import (
	"context"
	"sort"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/lineage"
)

type GestationRepo struct {
	store *Store
}

func NewGestationRepo(store *Store) GestationRepo {
	return GestationRepo{store: store}
}

func (r GestationRepo) Create(_ context.Context, g lineage.Gestation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.gestations[g.ID]; exists {
		return ports.ErrConflict
	}
	for _, cur := range r.store.gestations {
		if cur.Status == lineage.StatusGestating &&
			cur.ParentAgentID == g.ParentAgentID &&
			cur.PartnerAgentID == g.PartnerAgentID {
			return ports.ErrConflict
		}
	}
	r.store.gestations[g.ID] = g
	return nil
}

func (r GestationRepo) Get(_ context.Context, id string) (lineage.Gestation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	g, ok := r.store.gestations[id]
	if !ok {
		return lineage.Gestation{}, ports.ErrNotFound
	}
	return g, nil
}

func (r GestationRepo) ListGestating(_ context.Context) ([]lineage.Gestation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []lineage.Gestation
	for _, g := range r.store.gestations {
		if g.Status == lineage.StatusGestating {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r GestationRepo) Complete(_ context.Context, id, offspringAgentID string) (bool, error) {
	return r.flip(id, lineage.StatusCompleted, offspringAgentID)
}

func (r GestationRepo) Fail(_ context.Context, id string) (bool, error) {
	return r.flip(id, lineage.StatusFailed, "")
}

// flip moves gestating into a terminal status exactly once; the loser
// of a race gets false and must not act on the gestation.
func (r GestationRepo) flip(id string, to lineage.GestationStatus, offspringAgentID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	g, ok := r.store.gestations[id]
	if !ok {
		return false, ports.ErrNotFound
	}
	if g.Status != lineage.StatusGestating {
		return false, nil
	}
	g.Status = to
	if offspringAgentID != "" {
		g.OffspringAgentID = offspringAgentID
	}
	r.store.gestations[id] = g
	return true, nil
}

func (r GestationRepo) DeleteAll(_ context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.gestations = make(map[string]lineage.Gestation)
	return nil
}
