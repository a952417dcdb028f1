package model

import "time"

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

func (s ReservationStatus) String() string { return string(s) }

func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationReserved, ReservationConfirmed, ReservationReleased, ReservationExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
// RESERVED is the only non-terminal state.
func (s ReservationStatus) Terminal() bool { return s != ReservationReserved }

// Reservation is a lease on room inventory, one per booking (unique key on
// booking_id). Quantity is decremented from the room atomically with creation
// and restored atomically on release/expiry.
type Reservation struct {
	ID        string            `db:"id"`
	BookingID string            `db:"booking_id"`
	SKU       string            `db:"sku"`
	Quantity  int               `db:"quantity"`
	Status    ReservationStatus `db:"status"`
	ExpiresAt time.Time         `db:"expires_at"`
	CreatedAt time.Time         `db:"created_at"`
	UpdatedAt time.Time         `db:"updated_at"`
}

// ExpiredAt reports whether the lease has lapsed at the given instant while
// still unconfirmed.
func (r Reservation) ExpiredAt(now time.Time) bool {
	return r.Status == ReservationReserved && now.After(r.ExpiresAt)
}

// Room is a sellable inventory item.
type Room struct {
	SKU               string    `db:"sku"`
	Description       string    `db:"description"`
	TotalQuantity     int       `db:"total_quantity"`
	AvailableQuantity int       `db:"available_quantity"`
	UpdatedAt         time.Time `db:"updated_at"`
	CreatedAt         time.Time `db:"created_at"`
}
