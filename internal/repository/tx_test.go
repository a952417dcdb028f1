package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return sqlx.NewDb(raw, "sqlmock"), mock
}

func TestRunTxCommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	txm := NewTxManager(db)
	outbox := NewOutboxRepository(db, time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := txm.RunTx(context.Background(), func(ctx context.Context) error {
		_, err := outbox.Insert(ctx, "BookingCreatedEvent", []byte(`{}`))
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTxRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	txm := NewTxManager(db)
	outbox := NewOutboxRepository(db, time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("domain rule broken")
	err := txm.RunTx(context.Background(), func(ctx context.Context) error {
		if _, err := outbox.Insert(ctx, "BookingCreatedEvent", []byte(`{}`)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet(), "the write before the failure must be rolled back, not committed")
}

func TestRunTxRollsBackWhenWriteFails(t *testing.T) {
	db, mock := newMockDB(t)
	txm := NewTxManager(db)
	outbox := NewOutboxRepository(db, time.Minute)

	dbErr := errors.New("duplicate key")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").WillReturnError(dbErr)
	mock.ExpectRollback()

	err := txm.RunTx(context.Background(), func(ctx context.Context) error {
		_, err := outbox.Insert(ctx, "BookingCreatedEvent", []byte(`{}`))
		return err
	})
	require.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTxNestedCallJoinsEnclosingTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	txm := NewTxManager(db)
	outbox := NewOutboxRepository(db, time.Minute)

	// One Begin and one Commit: the inner RunTx must not open its own
	// transaction.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := txm.RunTx(context.Background(), func(ctx context.Context) error {
		if _, err := outbox.Insert(ctx, "BookingCreatedEvent", []byte(`{}`)); err != nil {
			return err
		}
		return txm.RunTx(ctx, func(ctx context.Context) error {
			_, err := outbox.Insert(ctx, "BookingCancelledEvent", []byte(`{}`))
			return err
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTxNestedErrorRollsBackWholeTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	txm := NewTxManager(db)
	outbox := NewOutboxRepository(db, time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("inner failure")
	err := txm.RunTx(context.Background(), func(ctx context.Context) error {
		if _, err := outbox.Insert(ctx, "BookingCreatedEvent", []byte(`{}`)); err != nil {
			return err
		}
		return txm.RunTx(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
