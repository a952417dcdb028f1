package booking

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/booking-saga/internal/event"
	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmehdipour/booking-saga/internal/repository"
	"github.com/jmehdipour/booking-saga/internal/util"
)

type passTxm struct{}

func (passTxm) RunTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memBookings struct {
	rows map[string]model.Booking
}

func (m *memBookings) Insert(_ context.Context, b model.Booking) error {
	m.rows[b.ID] = b
	return nil
}

func (m *memBookings) Get(_ context.Context, id string) (model.Booking, error) {
	b, ok := m.rows[id]
	if !ok {
		return model.Booking{}, repository.ErrNotFound
	}
	return b, nil
}

func (m *memBookings) Transition(_ context.Context, id string, to model.BookingStatus, from ...model.BookingStatus) (bool, error) {
	b, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if b.Status == st {
			b.Status = to
			m.rows[id] = b
			return true, nil
		}
	}
	return false, nil
}

type memGuests struct {
	rows map[int64]model.Guest
}

func (m *memGuests) GetByID(_ context.Context, id int64) (model.Guest, error) {
	g, ok := m.rows[id]
	if !ok {
		return model.Guest{}, repository.ErrNotFound
	}
	return g, nil
}

func (m *memGuests) Upsert(_ context.Context, g model.Guest) error {
	m.rows[g.ID] = g
	return nil
}

type memOutbox struct {
	types    []string
	payloads [][]byte
}

func (m *memOutbox) Insert(_ context.Context, eventType string, payload []byte) (string, error) {
	m.types = append(m.types, eventType)
	m.payloads = append(m.payloads, payload)
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

func newTestService(t *testing.T) (*Service, *memBookings, *memOutbox) {
	t.Helper()
	bookings := &memBookings{rows: map[string]model.Booking{}}
	guests := &memGuests{rows: map[int64]model.Guest{
		1: {ID: 1, Name: "Ada", Email: "ada@example.com", Status: "active"},
		2: {ID: 2, Name: "Mallory", Email: "mallory@example.com", Status: "suspended"},
	}}
	ob := &memOutbox{}
	return New(passTxm{}, bookings, guests, ob), bookings, ob
}

func TestCreatePersistsAndEmitsAtomically(t *testing.T) {
	svc, bookings, ob := newTestService(t)

	b, err := svc.Create(context.Background(), 1, "ROOM-101", 1, 12000, "corr-1")
	require.NoError(t, err)

	assert.Equal(t, model.BookingPending, b.Status)
	assert.NotEmpty(t, b.ID)

	stored, err := bookings.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, stored.ID)

	require.Equal(t, []string{event.TypeBookingCreated}, ob.types)

	var env event.Envelope
	require.NoError(t, json.Unmarshal(ob.payloads[0], &env))
	assert.Equal(t, event.TypeBookingCreated, env.EventName)
	assert.Equal(t, "corr-1", env.CorrelationID)

	var data event.BookingCreated
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, b.ID, data.BookingID)
	assert.Equal(t, int64(12000), data.AmountCents)
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	svc, _, ob := newTestService(t)

	cases := []struct {
		name     string
		sku      string
		quantity int
		amount   int64
	}{
		{"empty sku", "", 1, 100},
		{"zero quantity", "ROOM-101", 0, 100},
		{"negative amount", "ROOM-101", 1, -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), 1, tc.sku, tc.quantity, tc.amount, "corr")
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Empty(t, ob.types, "rejected requests emit nothing")
}

func TestCreateRejectsUnknownAndSuspendedGuests(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), 99, "ROOM-101", 1, 100, "corr")
	assert.ErrorIs(t, err, ErrGuestNotFound)

	_, err = svc.Create(context.Background(), 2, "ROOM-101", 1, 100, "corr")
	assert.ErrorIs(t, err, ErrGuestSuspended)
}

func TestCancelEmitsOnceOnly(t *testing.T) {
	svc, bookings, ob := newTestService(t)

	b, err := svc.Create(context.Background(), 1, "ROOM-101", 1, 12000, "corr-1")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), b.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, cancelled.Status)

	// Second cancel is a no-op that stays quiet.
	_, err = svc.Cancel(context.Background(), b.ID, "again")
	require.NoError(t, err)

	assert.Equal(t, []string{event.TypeBookingCreated, event.TypeBookingCancelled}, ob.types)

	stored, _ := bookings.Get(context.Background(), b.ID)
	assert.Equal(t, model.BookingCancelled, stored.Status)
}

func TestCancelRejectsConfirmedBooking(t *testing.T) {
	svc, bookings, ob := newTestService(t)

	b, err := svc.Create(context.Background(), 1, "ROOM-101", 1, 12000, "corr-1")
	require.NoError(t, err)

	env, err := event.NewEnvelope(event.TypePaymentSucceeded, "corr-1", event.PaymentSucceeded{
		PaymentID: "pay-1", BookingID: b.ID, AmountCents: 12000,
	})
	require.NoError(t, err)
	require.NoError(t, svc.HandlePaymentSucceeded(context.Background(), env))

	_, err = svc.Cancel(context.Background(), b.ID, "too late")
	assert.ErrorIs(t, err, ErrBookingFinal)

	stored, _ := bookings.Get(context.Background(), b.ID)
	assert.Equal(t, model.BookingConfirmed, stored.Status)
	assert.NotContains(t, ob.types, event.TypeBookingCancelled,
		"a refused cancellation must not signal inventory to release")
}

func TestCancelUnknownBooking(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Cancel(context.Background(), "nope", "reason")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestHandlersTransitionIdempotently(t *testing.T) {
	svc, bookings, _ := newTestService(t)

	b, err := svc.Create(context.Background(), 1, "ROOM-101", 1, 12000, "corr-1")
	require.NoError(t, err)

	env, err := event.NewEnvelope(event.TypePaymentSucceeded, "corr-1", event.PaymentSucceeded{
		PaymentID: "pay-1", BookingID: b.ID, AmountCents: 12000,
	})
	require.NoError(t, err)

	require.NoError(t, svc.HandlePaymentSucceeded(context.Background(), env))
	stored, _ := bookings.Get(context.Background(), b.ID)
	assert.Equal(t, model.BookingConfirmed, stored.Status)

	// Redelivery finds the booking already CONFIRMED and succeeds quietly.
	require.NoError(t, svc.HandlePaymentSucceeded(context.Background(), env))
	stored, _ = bookings.Get(context.Background(), b.ID)
	assert.Equal(t, model.BookingConfirmed, stored.Status)

	// A late failure event cannot un-confirm the booking.
	failEnv, err := event.NewEnvelope(event.TypePaymentFailed, "corr-1", event.PaymentFailed{
		PaymentID: "pay-1", BookingID: b.ID, Reason: "late", Permanent: true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.HandlePaymentFailed(context.Background(), failEnv))
	stored, _ = bookings.Get(context.Background(), b.ID)
	assert.Equal(t, model.BookingConfirmed, stored.Status)
}

func TestHandleReservationFailedCancels(t *testing.T) {
	svc, bookings, _ := newTestService(t)

	b, err := svc.Create(context.Background(), 1, "ROOM-101", 1, 12000, "corr-1")
	require.NoError(t, err)

	env, err := event.NewEnvelope(event.TypeInventoryReservationFailed, "corr-1", event.InventoryReservationFailed{
		BookingID: b.ID, SKU: "ROOM-101", Quantity: 1, Reason: "insufficient quantity",
	})
	require.NoError(t, err)

	require.NoError(t, svc.HandleReservationFailed(context.Background(), env))
	stored, _ := bookings.Get(context.Background(), b.ID)
	assert.Equal(t, model.BookingCancelled, stored.Status)
}

func TestHandleReservationExpiredCancels(t *testing.T) {
	svc, bookings, _ := newTestService(t)

	b, err := svc.Create(context.Background(), 1, "ROOM-101", 1, 12000, "corr-1")
	require.NoError(t, err)

	env, err := event.NewEnvelope(event.TypeReservationExpired, "", event.ReservationExpired{
		ReservationID: "res-1", BookingID: b.ID, SKU: "ROOM-101", Quantity: 1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.HandleReservationExpired(context.Background(), env))
	stored, _ := bookings.Get(context.Background(), b.ID)
	assert.Equal(t, model.BookingCancelled, stored.Status)
}
