package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// TxManager runs a function inside a single database transaction. The
// transaction travels in the context, so repositories called from fn join it
// transparently. This is what makes "domain mutation + outbox append" one
// atomic unit.
type TxManager interface {
	RunTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// SQLTxManager is the sqlx-backed TxManager.
type SQLTxManager struct {
	db *sqlx.DB
}

func NewTxManager(db *sqlx.DB) *SQLTxManager { return &SQLTxManager{db: db} }

// RunTx begins a transaction, stores it in the context and commits on success.
// Nested calls join the enclosing transaction instead of opening a new one.
func (m *SQLTxManager) RunTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback() }()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	return tx.Commit()
}

func txFrom(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx
}

// ext returns the executor for ctx: the enclosing transaction if any,
// otherwise the bare connection pool.
func ext(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
