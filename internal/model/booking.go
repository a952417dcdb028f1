package model

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

func (s BookingStatus) String() string { return string(s) }

func (s BookingStatus) Valid() bool {
	return s == BookingPending || s == BookingConfirmed || s == BookingCancelled
}

// Booking is the DB entity persisted in the bookings table. It is owned by the
// booking service; other services learn about it only through events.
type Booking struct {
	ID            string        `db:"id"`
	GuestID       int64         `db:"guest_id"`
	SKU           string        `db:"sku"`
	Quantity      int           `db:"quantity"`
	AmountCents   int64         `db:"amount_cents"`
	Status        BookingStatus `db:"status"`
	CorrelationID string        `db:"correlation_id"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}
