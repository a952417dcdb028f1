package model

import (
	"database/sql"
	"time"
)

// DeadLetterRecord holds a message that exhausted its retry budget. Written
// exactly once per exhausted message; later mutated only by the manual
// resolution workflow.
type DeadLetterRecord struct {
	ID             string         `db:"id"`
	SourceQueue    string         `db:"source_queue"`
	EventType      string         `db:"event_type"`
	Payload        []byte         `db:"payload"`
	ErrorMessage   string         `db:"error_message"`
	StackTrace     sql.NullString `db:"stack_trace"`
	AttemptCount   int            `db:"attempt_count"`
	FirstAttemptAt time.Time      `db:"first_attempt_at"`
	FailedAt       time.Time      `db:"failed_at"`
	Resolved       bool           `db:"resolved"`
	ResolvedAt     sql.NullTime   `db:"resolved_at"`
	ResolutionNote sql.NullString `db:"resolution_notes"`
	ResolvedBy     sql.NullString `db:"resolved_by"`
}
