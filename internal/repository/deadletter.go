package repository

import (
	"context"

	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeadLetterRepository defines persistence for the dead_letters table.
// Rows are written by the outbox publisher and the consumer runner; the manual
// resolution workflow mutates them afterwards.
type DeadLetterRepository interface {
	Insert(ctx context.Context, rec model.DeadLetterRecord) error
	ListUnresolved(ctx context.Context, limit int) ([]model.DeadLetterRecord, error)
	Resolve(ctx context.Context, id, notes, resolvedBy string) error
}

type deadLetterRepo struct {
	db *sqlx.DB
}

func NewDeadLetterRepository(db *sqlx.DB) DeadLetterRepository {
	return &deadLetterRepo{db: db}
}

func (r *deadLetterRepo) Insert(ctx context.Context, rec model.DeadLetterRecord) error {
	const q = `
		INSERT INTO dead_letters
		    (id, source_queue, event_type, payload, error_message, stack_trace,
		     attempt_count, first_attempt_at, failed_at, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW(6), 0)
		ON DUPLICATE KEY UPDATE id = id
	`
	_, err := ext(ctx, r.db).ExecContext(ctx, q,
		rec.ID, rec.SourceQueue, rec.EventType, rec.Payload, rec.ErrorMessage,
		rec.StackTrace, rec.AttemptCount, rec.FirstAttemptAt,
	)
	return err
}

func (r *deadLetterRepo) ListUnresolved(ctx context.Context, limit int) ([]model.DeadLetterRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	const q = `
		SELECT id, source_queue, event_type, payload, error_message, stack_trace,
		       attempt_count, first_attempt_at, failed_at, resolved, resolved_at,
		       resolution_notes, resolved_by
		FROM dead_letters
		WHERE resolved = 0
		ORDER BY failed_at ASC
		LIMIT ?
	`
	var recs []model.DeadLetterRecord
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &recs, q, limit); err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *deadLetterRepo) Resolve(ctx context.Context, id, notes, resolvedBy string) error {
	const q = `
		UPDATE dead_letters
		SET resolved = 1, resolved_at = NOW(6), resolution_notes = ?, resolved_by = ?
		WHERE id = ? AND resolved = 0
	`
	_, err := ext(ctx, r.db).ExecContext(ctx, q, notes, resolvedBy, id)
	return err
}
