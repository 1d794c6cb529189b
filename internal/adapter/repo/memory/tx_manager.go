package memory

import "context"

// TxManager gives multi-repo sequences mutual exclusion against each
// other. There is no rollback: a failed fn leaves whatever it already
// wrote, which the engine tolerates because every write is guarded by a
// version or status check.
type TxManager struct {
	store *Store
}

func NewTxManager(store *Store) TxManager {
	return TxManager{store: store}
}

func (t TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.store.txMu.Lock()
	defer t.store.txMu.Unlock()
	return fn(ctx)
}
