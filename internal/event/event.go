package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/booking-saga/internal/util"
)

// Event type names. The trailing "Event" suffix is load-bearing: the routing
// fallback strips it when no explicit mapping exists.
const (
	TypeBookingCreated             = "BookingCreatedEvent"
	TypeBookingCancelled           = "BookingCancelledEvent"
	TypeInventoryReserved          = "InventoryReservedEvent"
	TypeInventoryReservationFailed = "InventoryReservationFailedEvent"
	TypeReservationExpired         = "InventoryReservationExpiredEvent"
	TypePaymentSucceeded           = "PaymentSucceededEvent"
	TypePaymentFailed              = "PaymentFailedEvent"
)

// Envelope is the wire schema every event travels in. Consumers key their
// dispatch on EventName and deserialize Data accordingly.
type Envelope struct {
	EventID       string          `json:"event_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	EventName     string          `json:"event_name"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope wraps a typed payload. The payload marshalling is deterministic
// (struct field order), so a replayed record serializes identically.
func NewEnvelope(eventName, correlationID string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s data: %w", eventName, err)
	}

	return Envelope{
		EventID:       util.NewULID(),
		CorrelationID: correlationID,
		EventName:     eventName,
		Timestamp:     time.Now().UTC(),
		Data:          raw,
	}, nil
}

// Encode serializes the envelope for the outbox payload column.
func (e Envelope) Encode() ([]byte, error) { return json.Marshal(e) }

// Decode parses an envelope off the wire.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventName == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event_name")
	}
	return env, nil
}

// DecodeData unmarshals the type-specific payload into out.
func (e Envelope) DecodeData(out any) error {
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", e.EventName, err)
	}
	return nil
}

// ---- Payloads ----

type BookingCreated struct {
	BookingID   string `json:"booking_id"`
	GuestID     int64  `json:"guest_id"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	AmountCents int64  `json:"amount_cents"`
}

type BookingCancelled struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason,omitempty"`
}

type InventoryReserved struct {
	ReservationID string    `json:"reservation_id"`
	BookingID     string    `json:"booking_id"`
	SKU           string    `json:"sku"`
	Quantity      int       `json:"quantity"`
	AmountCents   int64     `json:"amount_cents"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type InventoryReservationFailed struct {
	BookingID string `json:"booking_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type ReservationExpired struct {
	ReservationID string `json:"reservation_id"`
	BookingID     string `json:"booking_id"`
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity"`
}

type PaymentSucceeded struct {
	PaymentID   string `json:"payment_id"`
	BookingID   string `json:"booking_id"`
	AmountCents int64  `json:"amount_cents"`
}

type PaymentFailed struct {
	PaymentID   string `json:"payment_id"`
	BookingID   string `json:"booking_id"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
	Permanent   bool   `json:"permanent"`
}
