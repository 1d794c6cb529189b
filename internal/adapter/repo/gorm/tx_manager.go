package gormrepo

import (
	"context"

	"gorm.io/gorm"
)

// TxManager implements ports.TxManager over a gorm transaction. The
// callback's context carries the transaction handle; nested RunInTx
// joins the outer transaction through the same context value.
type TxManager struct {
	db *gorm.DB
}

func NewTxManager(db *gorm.DB) TxManager {
	return TxManager{db: db}
}

func (t TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return getDBFromCtx(ctx, t.db).Transaction(func(tx *gorm.DB) error {
		return fn(withTx(ctx, tx))
	})
}
