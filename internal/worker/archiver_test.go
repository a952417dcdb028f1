package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/booking-saga/internal/kafka"
	"github.com/jmehdipour/booking-saga/internal/model"
)

type scriptedConsumer struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (c *scriptedConsumer) Fetch(ctx context.Context) (kafka.Message, error) {
	c.mu.Lock()
	if len(c.msgs) > 0 {
		m := c.msgs[0]
		c.msgs = c.msgs[1:]
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (c *scriptedConsumer) Commit(_ context.Context, m kafka.Message) error {
	c.mu.Lock()
	c.committed = append(c.committed, m.Offset)
	c.mu.Unlock()
	return nil
}

func (c *scriptedConsumer) commits() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.committed...)
}

type flakyEvents struct {
	mu       sync.Mutex
	failures int // first N InsertBatch calls fail
	batches  [][]model.EventHistoryRow
	flushed  chan struct{}
}

func (e *flakyEvents) InsertBatch(_ context.Context, rows []model.EventHistoryRow) error {
	e.mu.Lock()
	e.batches = append(e.batches, append([]model.EventHistoryRow(nil), rows...))
	fail := e.failures > 0
	if fail {
		e.failures--
	}
	e.mu.Unlock()

	e.flushed <- struct{}{}
	if fail {
		return errors.New("clickhouse unavailable")
	}
	return nil
}

func (e *flakyEvents) List(context.Context, string, string, int, int) ([]model.EventHistoryRow, error) {
	return nil, nil
}

func auditMsg(t *testing.T, id string, offset int64) kafka.Message {
	t.Helper()
	b, err := json.Marshal(model.EventHistoryRow{
		EventID:       id,
		CorrelationID: "corr-1",
		EventName:     "BookingCreatedEvent",
		RoutingKey:    "booking.created",
		Outcome:       "published",
		Payload:       "{}",
		OccurredAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	return kafka.Message{Value: b, Offset: offset}
}

func waitFlushes(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for flush %d", i+1)
		}
	}
}

func runArchiver(t *testing.T, w *Archiver) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- w.Run(ctx) }()
	return stop, ch
}

func stopAndWait(t *testing.T, cancel func(), done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("archiver did not stop")
	}
}

func TestArchiverDropsFailedBatchAndContinues(t *testing.T) {
	consumer := &scriptedConsumer{msgs: []kafka.Message{
		auditMsg(t, "ev-a", 1),
		auditMsg(t, "ev-b", 2),
		auditMsg(t, "ev-c", 3),
		auditMsg(t, "ev-d", 4),
	}}
	events := &flakyEvents{failures: 1, flushed: make(chan struct{}, 4)}

	w := NewArchiver(consumer, events)
	w.BatchSize = 2
	w.BatchWait = time.Hour

	cancel, done := runArchiver(t, w)
	waitFlushes(t, events.flushed, 2)
	stopAndWait(t, cancel, done)

	// The failed batch is dropped in-session; the next batch must not carry
	// its rows again.
	require.Len(t, events.batches, 2)
	assert.Equal(t, "ev-a", events.batches[0][0].EventID)
	assert.Equal(t, "ev-b", events.batches[0][1].EventID)
	assert.Equal(t, "ev-c", events.batches[1][0].EventID)
	assert.Equal(t, "ev-d", events.batches[1][1].EventID)

	// Only the archived rows get their offsets committed; the dropped rows
	// stay uncommitted for a restart to refetch.
	assert.Equal(t, []int64{3, 4}, consumer.commits())
}

func TestArchiverCommitsAndSkipsPoisonRows(t *testing.T) {
	consumer := &scriptedConsumer{msgs: []kafka.Message{
		{Value: []byte("not json"), Offset: 1},
		auditMsg(t, "ev-a", 2),
		auditMsg(t, "ev-b", 3),
	}}
	events := &flakyEvents{flushed: make(chan struct{}, 2)}

	w := NewArchiver(consumer, events)
	w.BatchSize = 2
	w.BatchWait = time.Hour

	cancel, done := runArchiver(t, w)
	waitFlushes(t, events.flushed, 1)
	stopAndWait(t, cancel, done)

	require.Len(t, events.batches, 1)
	require.Len(t, events.batches[0], 2)
	assert.Equal(t, "ev-a", events.batches[0][0].EventID)

	assert.Equal(t, []int64{1, 2, 3}, consumer.commits(),
		"the unparseable row is committed away, not redelivered forever")
}
