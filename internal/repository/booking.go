package repository

import (
	"context"
	"strings"

	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmoiron/sqlx"
)

// BookingRepository defines persistence for the bookings table.
type BookingRepository interface {
	Insert(ctx context.Context, b model.Booking) error
	Get(ctx context.Context, id string) (model.Booking, error)

	// Transition updates the booking status only when the current status is in
	// from. Returns false when no row changed; the caller treats that as an
	// already-applied (idempotent) outcome, not an error.
	Transition(ctx context.Context, id string, to model.BookingStatus, from ...model.BookingStatus) (bool, error)
}

type bookingRepo struct {
	db *sqlx.DB
}

func NewBookingRepository(db *sqlx.DB) BookingRepository {
	return &bookingRepo{db: db}
}

func (r *bookingRepo) Insert(ctx context.Context, b model.Booking) error {
	const q = `
		INSERT INTO bookings
		    (id, guest_id, sku, quantity, amount_cents, status, correlation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NOW(6), NOW(6))
	`
	_, err := ext(ctx, r.db).ExecContext(ctx, q,
		b.ID, b.GuestID, b.SKU, b.Quantity, b.AmountCents, b.Status.String(), b.CorrelationID,
	)
	return err
}

func (r *bookingRepo) Get(ctx context.Context, id string) (model.Booking, error) {
	const q = `
		SELECT id, guest_id, sku, quantity, amount_cents, status, correlation_id, created_at, updated_at
		FROM bookings
		WHERE id = ?
	`
	var b model.Booking
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &b, q, id); err != nil {
		return model.Booking{}, mapNoRows(err)
	}
	return b, nil
}

func (r *bookingRepo) Transition(ctx context.Context, id string, to model.BookingStatus, from ...model.BookingStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	args := make([]any, 0, len(from)+2)
	args = append(args, to.String(), id)
	placeholders := make([]string, len(from))
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, st.String())
	}

	q := `UPDATE bookings SET status = ?, updated_at = NOW(6) WHERE id = ? AND status IN (` +
		strings.Join(placeholders, ",") + `)`

	res, err := ext(ctx, r.db).ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
