package model

import (
	"database/sql"
	"time"
)

// OutboxRecord is one row of the outbox table: an event that must eventually
// reach the broker. Created in the same transaction as the domain mutation it
// announces; mutated afterwards only by the outbox publisher.
type OutboxRecord struct {
	ID            string         `db:"id"`
	EventType     string         `db:"event_type"`
	Payload       []byte         `db:"payload"`
	CreatedAt     time.Time      `db:"created_at"`
	Published     bool           `db:"published"`
	PublishedAt   sql.NullTime   `db:"published_at"`
	RetryCount    int            `db:"retry_count"`
	LastError     sql.NullString `db:"last_error"`
	LastAttemptAt sql.NullTime   `db:"last_attempt_at"`
	ClaimedBy     sql.NullString `db:"claimed_by"`
	ClaimedAt     sql.NullTime   `db:"claimed_at"`
}
