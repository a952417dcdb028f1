package outbox

import (
	"context"
	"log"
	"time"

	"github.com/jmehdipour/booking-saga/internal/event"
	"github.com/jmehdipour/booking-saga/internal/metrics"
	"github.com/jmehdipour/booking-saga/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Store is the slice of the outbox repository the publisher needs.
type Store interface {
	ClaimBatch(ctx context.Context, instanceID string, limit int) ([]model.OutboxRecord, error)
	MarkPublished(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, lastError string) error
	MoveToDeadLetter(ctx context.Context, rec model.OutboxRecord, errMsg string) error
}

// Broker publishes one message synchronously. Implemented by broker.Client.
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
}

// AuditSink receives a best-effort copy of every terminal outcome. Failures
// are the sink's problem; the publisher never retries audit writes.
type AuditSink interface {
	Record(ctx context.Context, row model.EventHistoryRow)
}

const maxStoredErrorLen = 500

// Publisher is the cooperative polling loop that drains the outbox: claim a
// batch, publish oldest-first, record the outcome. One logical instance per
// process; multiple processes coordinate through the claim step in the store.
type Publisher struct {
	Store  Store
	Broker Broker
	Audit  AuditSink // optional

	InstanceID   string
	Exchange     string
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
	DrainTimeout time.Duration
}

// NewPublisher builds a publisher with sane defaults.
func NewPublisher(store Store, broker Broker, instanceID string) *Publisher {
	return &Publisher{
		Store:        store,
		Broker:       broker,
		InstanceID:   instanceID,
		Exchange:     event.Exchange,
		BatchSize:    50,
		PollInterval: time.Second,
		MaxRetries:   5,
		DrainTimeout: 10 * time.Second,
	}
}

// Run blocks until ctx is cancelled, then attempts one final drain pass so a
// graceful shutdown does not leave freshly committed records waiting a full
// restart cycle.
func (p *Publisher) Run(ctx context.Context) error {
	if p.BatchSize <= 0 {
		p.BatchSize = 50
	}
	if p.PollInterval <= 0 {
		p.PollInterval = time.Second
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 5
	}
	if p.DrainTimeout <= 0 {
		p.DrainTimeout = 10 * time.Second
	}

	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), p.DrainTimeout)
			p.cycle(drainCtx)
			cancel()
			return nil

		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle claims one batch and processes it oldest-first. A store failure aborts
// the cycle; the next tick retries.
func (p *Publisher) cycle(ctx context.Context) {
	recs, err := p.Store.ClaimBatch(ctx, p.InstanceID, p.BatchSize)
	if err != nil {
		log.Printf("[outbox] claim batch err: %v", err)
		return
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		p.process(ctx, rec)
	}
}

func (p *Publisher) process(ctx context.Context, rec model.OutboxRecord) {
	if rec.RetryCount >= p.MaxRetries {
		// Terminal delivery failure, not success: parked for manual attention
		// so the pending set cannot grow forever.
		errMsg := "retry budget exhausted"
		if rec.LastError.Valid && rec.LastError.String != "" {
			errMsg = "retry budget exhausted: " + rec.LastError.String
		}
		if err := p.Store.MoveToDeadLetter(ctx, rec, errMsg); err != nil {
			log.Printf("[outbox] dead-letter move err id=%s: %v", rec.ID, err)
			return
		}

		log.Printf("[outbox] dead-lettered id=%s type=%s attempts=%d, manual attention required",
			rec.ID, rec.EventType, rec.RetryCount)
		metrics.OutboxTotal.WithLabelValues(rec.EventType, "dead_lettered").Inc()
		metrics.DeadLettersTotal.WithLabelValues("outbox").Inc()
		p.audit(ctx, rec, "dead_lettered")
		return
	}

	key := event.RoutingKey(rec.EventType)
	if err := p.Broker.Publish(ctx, p.Exchange, key, rec.Payload, nil); err != nil {
		if recErr := p.Store.RecordFailure(ctx, rec.ID, truncateErr(err)); recErr != nil {
			log.Printf("[outbox] record failure err id=%s: %v", rec.ID, recErr)
		}
		metrics.OutboxTotal.WithLabelValues(rec.EventType, "retry").Inc()
		return
	}

	if err := p.Store.MarkPublished(ctx, rec.ID); err != nil {
		// The message is on the broker but the row still reads unpublished:
		// the next cycle republishes. At-least-once, by contract.
		log.Printf("[outbox] mark published err id=%s: %v", rec.ID, err)
		return
	}

	metrics.OutboxTotal.WithLabelValues(rec.EventType, "published").Inc()
	p.audit(ctx, rec, "published")
}

func (p *Publisher) audit(ctx context.Context, rec model.OutboxRecord, outcome string) {
	if p.Audit == nil {
		return
	}

	row := model.EventHistoryRow{
		EventName:  rec.EventType,
		RoutingKey: event.RoutingKey(rec.EventType),
		Outcome:    outcome,
		Payload:    string(rec.Payload),
		OccurredAt: time.Now().UTC(),
	}
	if env, err := event.Decode(rec.Payload); err == nil {
		row.EventID = env.EventID
		row.CorrelationID = env.CorrelationID
	} else {
		row.EventID = rec.ID
	}

	p.Audit.Record(ctx, row)
}

func truncateErr(err error) string {
	msg := err.Error()
	if len(msg) > maxStoredErrorLen {
		msg = msg[:maxStoredErrorLen]
	}
	return msg
}
