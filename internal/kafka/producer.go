package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jmehdipour/booking-saga/internal/model"
)

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 100ms
	WriteTimeout time.Duration // default 5s
}

// Producer is a thin wrapper around segmentio/kafka-go Writer.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c ProducerConfig) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 100 * time.Millisecond
	}
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: bt,
		WriteTimeout: wt,
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{w: w}
}

func (p *Producer) Write(ctx context.Context, key, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

func (p *Producer) Close() error { return p.w.Close() }

// AuditSink streams terminal outbox outcomes to the audit topic. Writes are
// best-effort: the audit trail must never hold up event publishing, so a
// failed write is logged and dropped.
type AuditSink struct {
	p *Producer
}

func NewAuditSink(p *Producer) *AuditSink { return &AuditSink{p: p} }

func (s *AuditSink) Record(ctx context.Context, row model.EventHistoryRow) {
	value, err := json.Marshal(row)
	if err != nil {
		log.Printf("[audit] marshal err event_id=%s: %v", row.EventID, err)
		return
	}

	// Keyed by correlation id so one saga's trail lands on one partition, in
	// order.
	key := []byte(row.CorrelationID)
	if len(key) == 0 {
		key = []byte(row.EventID)
	}

	if err := s.p.Write(ctx, key, value); err != nil {
		log.Printf("[audit] write err event_id=%s: %v", row.EventID, err)
	}
}
