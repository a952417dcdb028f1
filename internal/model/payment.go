package model

import "time"

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentSuccess           PaymentStatus = "SUCCESS"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentPermanentlyFailed PaymentStatus = "PERMANENTLY_FAILED"
)

func (s PaymentStatus) String() string { return string(s) }

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSuccess, PaymentFailed, PaymentPermanentlyFailed:
		return true
	}
	return false
}

// Payment is the DB entity persisted in the payments table, one per booking
// (unique key on booking_id, the idempotency anchor for charge attempts).
type Payment struct {
	ID          string        `db:"id"`
	BookingID   string        `db:"booking_id"`
	AmountCents int64         `db:"amount_cents"`
	Status      PaymentStatus `db:"status"`
	RetryCount  int           `db:"retry_count"`
	LastError   string        `db:"last_error"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}
