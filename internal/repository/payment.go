package repository

import (
	"context"

	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmoiron/sqlx"
)

// PaymentRepository defines persistence for the payments table.
type PaymentRepository interface {
	Insert(ctx context.Context, p model.Payment) error
	GetByBooking(ctx context.Context, bookingID string) (model.Payment, error)
	Update(ctx context.Context, p model.Payment) error
}

type paymentRepo struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) Insert(ctx context.Context, p model.Payment) error {
	const q = `
		INSERT INTO payments
		    (id, booking_id, amount_cents, status, retry_count, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW(6), NOW(6))
	`
	_, err := ext(ctx, r.db).ExecContext(ctx, q,
		p.ID, p.BookingID, p.AmountCents, p.Status.String(), p.RetryCount, p.LastError,
	)
	return err
}

func (r *paymentRepo) GetByBooking(ctx context.Context, bookingID string) (model.Payment, error) {
	const q = `
		SELECT id, booking_id, amount_cents, status, retry_count, last_error, created_at, updated_at
		FROM payments
		WHERE booking_id = ?
	`
	var p model.Payment
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &p, q, bookingID); err != nil {
		return model.Payment{}, mapNoRows(err)
	}
	return p, nil
}

func (r *paymentRepo) Update(ctx context.Context, p model.Payment) error {
	const q = `
		UPDATE payments
		SET status = ?, retry_count = ?, last_error = ?, updated_at = NOW(6)
		WHERE id = ?
	`
	_, err := ext(ctx, r.db).ExecContext(ctx, q, p.Status.String(), p.RetryCount, p.LastError, p.ID)
	return err
}
