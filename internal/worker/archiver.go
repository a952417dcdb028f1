package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/jmehdipour/booking-saga/internal/kafka"
	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmehdipour/booking-saga/internal/repository"
)

// AuditConsumer is the slice of kafka.Consumer the archiver needs.
type AuditConsumer interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Archiver drains the audit topic into ClickHouse:
// - fetches event-history rows from Kafka,
// - buffers them,
// - flushes size/time-based batches into event_history.
type Archiver struct {
	Consumer AuditConsumer
	Events   repository.CHEventsRepository

	BatchSize int           // max buffered rows per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewArchiver(consumer AuditConsumer, events repository.CHEventsRepository) *Archiver {
	return &Archiver{
		Consumer:  consumer,
		Events:    events,
		BatchSize: 200,
		BatchWait: 300 * time.Millisecond,
	}
}

// Run starts the archiver and blocks until ctx is cancelled.
func (w *Archiver) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 300 * time.Millisecond
	}

	type item struct {
		row model.EventHistoryRow
		msg kafka.Message
	}

	msgCh := make(chan item, w.BatchSize*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := w.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[archiver] kafka fetch err: %v", err)
				time.Sleep(200 * time.Millisecond)
				continue
			}

			var row model.EventHistoryRow
			if err := json.Unmarshal(m.Value, &row); err != nil || row.EventID == "" {
				// Poison row: commit and skip.
				_ = w.Consumer.Commit(ctx, m)
				log.Printf("[archiver] bad audit row: %v", err)
				continue
			}

			select {
			case msgCh <- item{row: row, msg: m}:
			case <-ctx.Done():
				return
			}
		}
	}()

	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var rows []model.EventHistoryRow
	var msgs []kafka.Message

	flush := func(fctx context.Context) {
		if len(rows) == 0 {
			return
		}

		if err := w.Events.InsertBatch(fctx, rows); err != nil {
			// Best-effort stream: the batch is dropped for this process. Its
			// offsets stay uncommitted, so a restarted group member refetches
			// the rows from the last committed offset, but a live reader will
			// not hand them out again in-session.
			log.Printf("[archiver] insert batch err (%d rows): %v", len(rows), err)
			rows = rows[:0]
			msgs = msgs[:0]
			return
		}

		for _, m := range msgs {
			if err := w.Consumer.Commit(fctx, m); err != nil {
				log.Printf("[archiver] commit err: %v", err)
			}
		}

		log.Printf("[archiver] flushed %d rows", len(rows))
		rows = rows[:0]
		msgs = msgs[:0]
	}

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(fctx)
			cancel()
			return nil

		case it, ok := <-msgCh:
			if !ok {
				flush(ctx)
				return nil
			}
			rows = append(rows, it.row)
			msgs = append(msgs, it.msg)
			if len(rows) >= w.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}
