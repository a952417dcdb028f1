package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/booking-saga/internal/event"
	"github.com/jmehdipour/booking-saga/internal/gateway"
	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmehdipour/booking-saga/internal/repository"
	"github.com/jmehdipour/booking-saga/internal/util"
)

type passTxm struct{}

func (passTxm) RunTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memPayments struct {
	rows map[string]model.Payment // keyed by booking id
}

func (m *memPayments) Insert(_ context.Context, p model.Payment) error {
	if _, ok := m.rows[p.BookingID]; ok {
		return fmt.Errorf("duplicate entry for booking %s", p.BookingID)
	}
	m.rows[p.BookingID] = p
	return nil
}

func (m *memPayments) GetByBooking(_ context.Context, bookingID string) (model.Payment, error) {
	p, ok := m.rows[bookingID]
	if !ok {
		return model.Payment{}, repository.ErrNotFound
	}
	return p, nil
}

func (m *memPayments) Update(_ context.Context, p model.Payment) error {
	m.rows[p.BookingID] = p
	return nil
}

type memOutbox struct {
	types []string
}

func (m *memOutbox) Insert(_ context.Context, eventType string, _ []byte) (string, error) {
	m.types = append(m.types, eventType)
	return util.NewULID(), nil
}

func (m *memOutbox) ClaimBatch(context.Context, string, int) ([]model.OutboxRecord, error) {
	return nil, nil
}
func (m *memOutbox) MarkPublished(context.Context, string) error  { return nil }
func (m *memOutbox) RecordFailure(context.Context, string, string) error {
	return nil
}
func (m *memOutbox) MoveToDeadLetter(context.Context, model.OutboxRecord, string) error {
	return nil
}

// scriptedGateway replays a fixed sequence of charge outcomes, then succeeds.
type scriptedGateway struct {
	script []error
	calls  int
}

func (g *scriptedGateway) Charge(context.Context, gateway.ChargeRequest) error {
	g.calls++
	if len(g.script) == 0 {
		return nil
	}
	err := g.script[0]
	g.script = g.script[1:]
	return err
}

func newTestService(gw Gateway, maxRetries int) (*Service, *memPayments, *memOutbox) {
	payments := &memPayments{rows: map[string]model.Payment{}}
	ob := &memOutbox{}
	return New(passTxm{}, payments, ob, gw, maxRetries), payments, ob
}

func reservedEnvelope(t *testing.T, bookingID string) event.Envelope {
	t.Helper()
	env, err := event.NewEnvelope(event.TypeInventoryReserved, "corr-1", event.InventoryReserved{
		ReservationID: "res-1", BookingID: bookingID, SKU: "ROOM-101", Quantity: 1, AmountCents: 12000,
	})
	require.NoError(t, err)
	return env
}

func TestChargeSuccessEmitsPaymentSucceeded(t *testing.T) {
	gw := &scriptedGateway{}
	svc, payments, ob := newTestService(gw, 3)

	require.NoError(t, svc.HandleInventoryReserved(context.Background(), reservedEnvelope(t, "bk-1")))

	p, err := payments.GetByBooking(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSuccess, p.Status)
	assert.Equal(t, int64(12000), p.AmountCents)
	assert.Equal(t, []string{event.TypePaymentSucceeded}, ob.types)
	assert.Equal(t, 1, gw.calls)
}

func TestRedeliveryAfterSuccessDoesNotChargeAgain(t *testing.T) {
	gw := &scriptedGateway{}
	svc, _, ob := newTestService(gw, 3)

	env := reservedEnvelope(t, "bk-1")
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), env))
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), env))

	assert.Equal(t, 1, gw.calls, "settled payment must not hit the gateway again")
	assert.Equal(t, []string{event.TypePaymentSucceeded}, ob.types)
}

func TestDeclineIsTerminal(t *testing.T) {
	gw := &scriptedGateway{script: []error{gateway.ErrDeclined}}
	svc, payments, ob := newTestService(gw, 3)

	// Declines are business outcomes: handled, not retried.
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), reservedEnvelope(t, "bk-1")))

	p, _ := payments.GetByBooking(context.Background(), "bk-1")
	assert.Equal(t, model.PaymentFailed, p.Status)
	assert.Equal(t, []string{event.TypePaymentFailed}, ob.types)

	// Redelivery after the terminal record is a quiet no-op.
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), reservedEnvelope(t, "bk-1")))
	assert.Equal(t, 1, gw.calls)
}

func TestTransientErrorsRetryThenExhaust(t *testing.T) {
	transient := errors.New("gateway timeout")
	gw := &scriptedGateway{script: []error{transient, transient, transient}}
	svc, payments, ob := newTestService(gw, 3)

	env := reservedEnvelope(t, "bk-1")

	// First two attempts bubble the error up for consumer redelivery.
	require.Error(t, svc.HandleInventoryReserved(context.Background(), env))
	require.Error(t, svc.HandleInventoryReserved(context.Background(), env))

	p, _ := payments.GetByBooking(context.Background(), "bk-1")
	assert.Equal(t, model.PaymentPending, p.Status)
	assert.Equal(t, 2, p.RetryCount)

	// Third attempt exhausts the budget: permanent failure, no error returned.
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), env))

	p, _ = payments.GetByBooking(context.Background(), "bk-1")
	assert.Equal(t, model.PaymentPermanentlyFailed, p.Status)
	assert.Equal(t, []string{event.TypePaymentFailed}, ob.types)

	// The card is never probed again.
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), env))
	assert.Equal(t, 3, gw.calls)
}

func TestTransientThenRecoverySucceeds(t *testing.T) {
	gw := &scriptedGateway{script: []error{errors.New("connection reset")}}
	svc, payments, ob := newTestService(gw, 3)

	env := reservedEnvelope(t, "bk-1")
	require.Error(t, svc.HandleInventoryReserved(context.Background(), env))
	require.NoError(t, svc.HandleInventoryReserved(context.Background(), env))

	p, _ := payments.GetByBooking(context.Background(), "bk-1")
	assert.Equal(t, model.PaymentSuccess, p.Status)
	assert.Equal(t, []string{event.TypePaymentSucceeded}, ob.types)
}

func TestMalformedPayloadRejected(t *testing.T) {
	svc, _, _ := newTestService(&scriptedGateway{}, 3)

	env := event.Envelope{EventID: "x", EventName: event.TypeInventoryReserved, Data: []byte(`{`)}
	assert.Error(t, svc.HandleInventoryReserved(context.Background(), env))
}
