package pg

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type txKey struct{}

// txFromCtx returns the in-flight transaction, if the context carries one.
// Repo methods route their statements through it so UnitOfWork.Do makes the
// current-state write and the history append atomic.
func txFromCtx(ctx context.Context) pgx.Tx {
	if v := ctx.Value(txKey{}); v != nil {
		if tx, ok := v.(pgx.Tx); ok {
			return tx
		}
	}
	return nil
}

type UnitOfWork struct {
	DB *DB
}

func NewUnitOfWork(db *DB) *UnitOfWork { return &UnitOfWork{DB: db} }

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := u.DB.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
