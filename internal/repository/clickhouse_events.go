package repository

import (
	"context"
	"strings"

	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHEventsRepository archives and lists envelopes in ClickHouse.
type CHEventsRepository interface {
	InsertBatch(ctx context.Context, rows []model.EventHistoryRow) error
	List(ctx context.Context, correlationID, eventName string, limit, offset int) ([]model.EventHistoryRow, error)
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

func (r *chEventsRepository) InsertBatch(ctx context.Context, rows []model.EventHistoryRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(rows)*7)

	sb.WriteString(`INSERT INTO bksaga.event_history
		(event_id, correlation_id, event_name, routing_key, outcome, payload, occurred_at) VALUES `)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			row.EventID, row.CorrelationID, row.EventName, row.RoutingKey,
			row.Outcome, row.Payload, row.OccurredAt,
		)
	}

	_, err := r.ch.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *chEventsRepository) List(ctx context.Context, correlationID, eventName string, limit, offset int) ([]model.EventHistoryRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT event_id, correlation_id, event_name, routing_key, outcome, payload, occurred_at
		FROM bksaga.event_history
		WHERE 1 = 1
	`
	var args []any

	if correlationID != "" {
		q += " AND correlation_id = ?"
		args = append(args, correlationID)
	}
	if eventName != "" {
		q += " AND event_name = ?"
		args = append(args, eventName)
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.EventHistoryRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
