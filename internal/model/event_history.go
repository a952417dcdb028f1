package model

import "time"

// EventHistoryRow is one archived envelope in the ClickHouse event_history
// table, written by the archiver worker off the audit stream.
type EventHistoryRow struct {
	EventID       string    `db:"event_id" json:"event_id"`
	CorrelationID string    `db:"correlation_id" json:"correlation_id"`
	EventName     string    `db:"event_name" json:"event_name"`
	RoutingKey    string    `db:"routing_key" json:"routing_key"`
	Outcome       string    `db:"outcome" json:"outcome"` // published | dead_lettered
	Payload       string    `db:"payload" json:"payload"`
	OccurredAt    time.Time `db:"occurred_at" json:"occurred_at"`
}
