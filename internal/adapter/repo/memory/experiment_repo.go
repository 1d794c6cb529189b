package memory

import (
	"context"
	"sort"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/experiment"
)

type ExperimentRepo struct {
	store *Store
}

func NewExperimentRepo(store *Store) ExperimentRepo {
	return ExperimentRepo{store: store}
}

func (r ExperimentRepo) CreateExperiment(_ context.Context, exp experiment.Experiment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.experiments[exp.ID]; exists {
		return ports.ErrConflict
	}
	r.store.experiments[exp.ID] = exp
	return nil
}

func (r ExperimentRepo) GetExperiment(_ context.Context, id string) (experiment.Experiment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	exp, ok := r.store.experiments[id]
	if !ok {
		return experiment.Experiment{}, ports.ErrNotFound
	}
	return exp, nil
}

func (r ExperimentRepo) StartExperiment(ctx context.Context, id string) error {
	return r.moveExperiment(id, experiment.StatusPending, experiment.StatusRunning)
}

func (r ExperimentRepo) CompleteExperiment(ctx context.Context, id string) error {
	return r.moveExperiment(id, experiment.StatusRunning, experiment.StatusCompleted)
}

func (r ExperimentRepo) moveExperiment(id string, from, to experiment.Status) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	exp, ok := r.store.experiments[id]
	if !ok {
		return ports.ErrNotFound
	}
	if exp.Status == to {
		// Already in the target state is benign.
		return nil
	}
	if exp.Status != from {
		return ports.ErrConflict
	}
	exp.Status = to
	r.store.experiments[id] = exp
	return nil
}

func (r ExperimentRepo) CreateVariant(_ context.Context, v experiment.Variant) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.variants[v.ID]; exists {
		return ports.ErrConflict
	}
	r.store.variants[v.ID] = v
	return nil
}

func (r ExperimentRepo) GetVariant(_ context.Context, id string) (experiment.Variant, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	v, ok := r.store.variants[id]
	if !ok {
		return experiment.Variant{}, ports.ErrNotFound
	}
	return v, nil
}

func (r ExperimentRepo) ListVariants(_ context.Context, experimentID string) ([]experiment.Variant, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []experiment.Variant
	for _, v := range r.store.variants {
		if v.ExperimentID == experimentID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r ExperimentRepo) NextPendingVariant(_ context.Context, experimentID string) (experiment.Variant, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var next experiment.Variant
	found := false
	for _, v := range r.store.variants {
		if v.ExperimentID != experimentID || v.Status != experiment.StatusPending {
			continue
		}
		if !found || v.Sequence < next.Sequence {
			next = v
			found = true
		}
	}
	if !found {
		return experiment.Variant{}, ports.ErrNotFound
	}
	return next, nil
}

func (r ExperimentRepo) RunningVariant(_ context.Context) (experiment.Variant, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, v := range r.store.variants {
		if v.Status == experiment.StatusRunning {
			return v, nil
		}
	}
	return experiment.Variant{}, ports.ErrNotFound
}

// StartVariant refuses while any variant is running, which is what
// keeps experiment runs serial across the whole store.
func (r ExperimentRepo) StartVariant(_ context.Context, id string, tick int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	v, ok := r.store.variants[id]
	if !ok {
		return ports.ErrNotFound
	}
	for _, other := range r.store.variants {
		if other.Status == experiment.StatusRunning {
			return ports.ErrConflict
		}
	}
	if v.Status != experiment.StatusPending {
		return ports.ErrConflict
	}
	v.Status = experiment.StatusRunning
	v.StartTick = &tick
	r.store.variants[id] = v
	return nil
}

func (r ExperimentRepo) CompleteVariant(_ context.Context, id string, tick int64) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	v, ok := r.store.variants[id]
	if !ok {
		return false, ports.ErrNotFound
	}
	if v.Status != experiment.StatusRunning {
		return false, nil
	}
	v.Status = experiment.StatusCompleted
	v.EndTick = &tick
	r.store.variants[id] = v
	return true, nil
}

func (r ExperimentRepo) DeleteAll(_ context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.experiments = make(map[string]experiment.Experiment)
	r.store.variants = make(map[string]experiment.Variant)
	return nil
}
