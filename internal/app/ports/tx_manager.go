package ports

import "context"

// TxManager runs fn inside one store transaction. The transaction
// travels in the context, so repository calls made with the inner ctx
// join it. Gestation completion and world reset use this to keep their
// multi-row writes atomic.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
