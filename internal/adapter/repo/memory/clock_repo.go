package memory

import (
	"context"

	"vivarium/internal/app/ports"
)

type ClockRepo struct {
	store *Store
}

func NewClockRepo(store *Store) ClockRepo {
	return ClockRepo{store: store}
}

func (r ClockRepo) Load(_ context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if !r.store.clockSet {
		return 0, ports.ErrNotFound
	}
	return r.store.clockTick, nil
}

func (r ClockRepo) Save(_ context.Context, tick int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.clockTick = tick
	r.store.clockSet = true
	return nil
}

func (r ClockRepo) Reset(ctx context.Context) error {
	return r.Save(ctx, 0)
}
