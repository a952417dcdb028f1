package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/booking-saga/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu          sync.Mutex
	records     []*model.OutboxRecord
	deadLetters map[string]int
	claimCalls  int
	claimErr    error
}

func newFakeStore(recs ...*model.OutboxRecord) *fakeStore {
	return &fakeStore{records: recs, deadLetters: map[string]int{}}
}

func (s *fakeStore) ClaimBatch(_ context.Context, _ string, limit int) ([]model.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimCalls++
	if s.claimErr != nil {
		return nil, s.claimErr
	}

	var out []model.OutboxRecord
	for _, r := range s.records {
		if !r.Published {
			out = append(out, *r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) find(id string) *model.OutboxRecord {
	for _, r := range s.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *fakeStore) MarkPublished(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	r.Published = true
	r.PublishedAt.Valid = true
	r.PublishedAt.Time = time.Now()
	return nil
}

func (s *fakeStore) RecordFailure(_ context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(id)
	r.RetryCount++
	r.LastError.Valid = true
	r.LastError.String = lastError
	return nil
}

func (s *fakeStore) MoveToDeadLetter(_ context.Context, rec model.OutboxRecord, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters[rec.ID]++
	r := s.find(rec.ID)
	r.Published = true
	return nil
}

type fakeBroker struct {
	mu        sync.Mutex
	published []string // routing keys in publish order
	bodies    [][]byte
	failures  int // fail this many calls before succeeding
	alwaysErr error
}

func (b *fakeBroker) Publish(_ context.Context, _, routingKey string, body []byte, _ amqp.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.alwaysErr != nil {
		return b.alwaysErr
	}
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unreachable")
	}
	b.published = append(b.published, routingKey)
	b.bodies = append(b.bodies, body)
	return nil
}

func rec(id, eventType string, createdAt time.Time) *model.OutboxRecord {
	return &model.OutboxRecord{
		ID:        id,
		EventType: eventType,
		Payload:   []byte(fmt.Sprintf(`{"event_id":%q,"event_name":%q,"data":{}}`, id, eventType)),
		CreatedAt: createdAt,
	}
}

func TestPublishOldestFirst(t *testing.T) {
	t0 := time.Now()
	store := newFakeStore(
		rec("01A", "BookingCreatedEvent", t0),
		rec("01B", "BookingCreatedEvent", t0.Add(time.Second)),
		rec("01C", "PaymentFailedEvent", t0.Add(2*time.Second)),
	)
	broker := &fakeBroker{}

	p := NewPublisher(store, broker, "test-1")
	p.cycle(context.Background())

	require.Len(t, broker.published, 3)
	assert.Equal(t, []string{"booking.created", "booking.created", "payment.failed"}, broker.published)
	for _, r := range store.records {
		assert.True(t, r.Published)
		assert.True(t, r.PublishedAt.Valid)
	}
}

func TestPublishRetriesUntilBrokerRecovers(t *testing.T) {
	store := newFakeStore(rec("01A", "BookingCreatedEvent", time.Now()))
	broker := &fakeBroker{failures: 2}

	p := NewPublisher(store, broker, "test-1")

	p.cycle(context.Background())
	assert.False(t, store.records[0].Published)
	assert.Equal(t, 1, store.records[0].RetryCount)
	assert.Equal(t, "broker unreachable", store.records[0].LastError.String)

	p.cycle(context.Background())
	assert.Equal(t, 2, store.records[0].RetryCount)

	p.cycle(context.Background())
	assert.True(t, store.records[0].Published)
	assert.Equal(t, 2, store.records[0].RetryCount)
}

func TestExhaustedRecordDeadLetteredExactlyOnce(t *testing.T) {
	store := newFakeStore(rec("01A", "BookingCreatedEvent", time.Now()))
	broker := &fakeBroker{alwaysErr: errors.New("boom")}

	p := NewPublisher(store, broker, "test-1")
	p.MaxRetries = 2

	// Two failing cycles exhaust the budget, the third dead-letters.
	for i := 0; i < 5; i++ {
		p.cycle(context.Background())
	}

	assert.Equal(t, 1, store.deadLetters["01A"])
	assert.True(t, store.records[0].Published, "dead-lettered record must leave the pending set")
	assert.Empty(t, broker.published, "a dead-lettered record is never republished")
}

func TestStoreFailureAbortsCycle(t *testing.T) {
	store := newFakeStore(rec("01A", "BookingCreatedEvent", time.Now()))
	store.claimErr = errors.New("store timeout")
	broker := &fakeBroker{}

	p := NewPublisher(store, broker, "test-1")
	p.cycle(context.Background())

	assert.Empty(t, broker.published)
	assert.Equal(t, 0, store.records[0].RetryCount)
}

func TestRunDrainsOnShutdown(t *testing.T) {
	store := newFakeStore(rec("01A", "BookingCreatedEvent", time.Now()))
	broker := &fakeBroker{}

	p := NewPublisher(store, broker, "test-1")
	p.PollInterval = time.Hour // ticks never fire; only the drain pass can publish

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
	}

	assert.True(t, store.records[0].Published, "final drain pass must run before terminating")
}

type fakeAudit struct {
	mu   sync.Mutex
	rows []model.EventHistoryRow
}

func (a *fakeAudit) Record(_ context.Context, row model.EventHistoryRow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, row)
}

func TestAuditReceivesTerminalOutcomes(t *testing.T) {
	store := newFakeStore(
		rec("01A", "BookingCreatedEvent", time.Now()),
		rec("01B", "PaymentFailedEvent", time.Now().Add(time.Second)),
	)
	store.records[1].RetryCount = 99 // already exhausted
	broker := &fakeBroker{}
	audit := &fakeAudit{}

	p := NewPublisher(store, broker, "test-1")
	p.Audit = audit
	p.cycle(context.Background())

	require.Len(t, audit.rows, 2)
	assert.Equal(t, "published", audit.rows[0].Outcome)
	assert.Equal(t, "01A", audit.rows[0].EventID)
	assert.Equal(t, "dead_lettered", audit.rows[1].Outcome)
}
