package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmehdipour/booking-saga/internal/util"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository defines persistence for the outbox table.
type OutboxRepository interface {
	// Insert appends an outbox record. Callers are expected to invoke it from
	// inside TxManager.RunTx together with the domain mutation the event
	// announces; outside a transaction it still works but loses atomicity.
	Insert(ctx context.Context, eventType string, payload []byte) (string, error)

	// ClaimBatch atomically marks up to limit unpublished records as claimed
	// by instanceID and returns them oldest-first. Records whose claim is
	// older than the claim TTL are up for grabs again, so a crashed publisher
	// cannot strand its batch.
	ClaimBatch(ctx context.Context, instanceID string, limit int) ([]model.OutboxRecord, error)

	// MarkPublished flips the record to its terminal published state.
	MarkPublished(ctx context.Context, id string) error

	// RecordFailure increments the retry counter, stores the error and
	// releases the claim so the next cycle picks the record up again.
	RecordFailure(ctx context.Context, id string, lastError string) error

	// MoveToDeadLetter writes a dead-letter row and marks the record
	// published in one transaction. Keyed on the outbox id, so repeating the
	// call cannot produce a second dead letter.
	MoveToDeadLetter(ctx context.Context, rec model.OutboxRecord, errMsg string) error
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db       *sqlx.DB
	claimTTL time.Duration
}

// NewOutboxRepository constructs an OutboxRepositoryImpl. claimTTL bounds how
// long a claim shields records from other publisher instances.
func NewOutboxRepository(db *sqlx.DB, claimTTL time.Duration) *OutboxRepositoryImpl {
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	return &OutboxRepositoryImpl{db: db, claimTTL: claimTTL}
}

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, eventType string, payload []byte) (string, error) {
	id := util.NewULID()
	const q = `
		INSERT INTO outbox (id, event_type, payload, created_at, published, retry_count)
		VALUES (?, ?, ?, NOW(6), 0, 0)
	`
	if _, err := ext(ctx, r.db).ExecContext(ctx, q, id, eventType, payload); err != nil {
		return "", err
	}
	return id, nil
}

func (r *OutboxRepositoryImpl) ClaimBatch(ctx context.Context, instanceID string, limit int) ([]model.OutboxRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	const claim = `
		UPDATE outbox
		SET claimed_by = ?, claimed_at = NOW(6)
		WHERE published = 0
		  AND (claimed_at IS NULL OR claimed_at < NOW(6) - INTERVAL ? MICROSECOND)
		ORDER BY created_at ASC
		LIMIT ?
	`
	if _, err := ext(ctx, r.db).ExecContext(ctx, claim, instanceID, r.claimTTL.Microseconds(), limit); err != nil {
		return nil, err
	}

	const list = `
		SELECT id, event_type, payload, created_at, published, published_at,
		       retry_count, last_error, last_attempt_at, claimed_by, claimed_at
		FROM outbox
		WHERE published = 0 AND claimed_by = ?
		ORDER BY created_at ASC
	`
	var recs []model.OutboxRecord
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &recs, list, instanceID); err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *OutboxRepositoryImpl) MarkPublished(ctx context.Context, id string) error {
	const q = `
		UPDATE outbox
		SET published = 1, published_at = NOW(6), claimed_by = NULL, claimed_at = NULL
		WHERE id = ? AND published = 0
	`
	_, err := ext(ctx, r.db).ExecContext(ctx, q, id)
	return err
}

func (r *OutboxRepositoryImpl) RecordFailure(ctx context.Context, id string, lastError string) error {
	const q = `
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = ?, last_attempt_at = NOW(6),
		    claimed_by = NULL, claimed_at = NULL
		WHERE id = ? AND published = 0
	`
	_, err := ext(ctx, r.db).ExecContext(ctx, q, lastError, id)
	return err
}

func (r *OutboxRepositoryImpl) MoveToDeadLetter(ctx context.Context, rec model.OutboxRecord, errMsg string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Reuses the outbox id as the dead-letter id: replaying this move is a
	// no-op instead of a duplicate.
	const ins = `
		INSERT INTO dead_letters
		    (id, source_queue, event_type, payload, error_message, attempt_count,
		     first_attempt_at, failed_at, resolved)
		VALUES (?, 'outbox', ?, ?, ?, ?, ?, NOW(6), 0)
		ON DUPLICATE KEY UPDATE id = id
	`
	if _, err := tx.ExecContext(ctx, ins,
		rec.ID, rec.EventType, rec.Payload, errMsg, rec.RetryCount, rec.CreatedAt,
	); err != nil {
		return err
	}

	const upd = `
		UPDATE outbox
		SET published = 1, published_at = NOW(6), claimed_by = NULL, claimed_at = NULL
		WHERE id = ? AND published = 0
	`
	if _, err := tx.ExecContext(ctx, upd, rec.ID); err != nil {
		return err
	}

	return tx.Commit()
}
