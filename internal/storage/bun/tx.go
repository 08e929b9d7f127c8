package bunrepo

import (
	"context"
	"database/sql"

	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
	"github.com/uptrace/bun"
)

type txKey struct{}

// TxManager runs callbacks inside a bun transaction and threads the handle
// through the context so repositories join the same transaction. The decision
// path relies on this: locked read, record insert, and status update must
// commit or roll back together.
type TxManager struct {
	db *bun.DB
}

var _ store.TransactionManager = (*TxManager)(nil)

func NewTxManager(db *bun.DB) *TxManager {
	return &TxManager{db: db}
}

func (m *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		// Already inside a transaction; join it.
		return fn(ctx)
	}
	err := m.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	return mapError(err)
}

// conn returns the ambient transaction when present, the root handle
// otherwise.
func conn(ctx context.Context, db *bun.DB) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return db
}
