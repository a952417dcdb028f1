package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/booking-saga/internal/event"
	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmehdipour/booking-saga/internal/repository"
	"github.com/jmehdipour/booking-saga/internal/util"
)

var (
	ErrGuestNotFound   = errors.New("guest not found")
	ErrGuestSuspended  = errors.New("guest suspended")
	ErrBookingNotFound = errors.New("booking not found")
	ErrInvalidRequest  = errors.New("invalid booking request")
	ErrBookingFinal    = errors.New("booking already confirmed")
)

// Service owns bookings. State changes and the events announcing them are
// committed in one transaction through the outbox.
type Service struct {
	txm      repository.TxManager
	bookings repository.BookingRepository
	guests   repository.GuestRepository
	outbox   repository.OutboxRepository
}

func New(
	txm repository.TxManager,
	bookings repository.BookingRepository,
	guests repository.GuestRepository,
	outbox repository.OutboxRepository,
) *Service {
	return &Service{txm: txm, bookings: bookings, guests: guests, outbox: outbox}
}

// Create validates the guest, persists a PENDING booking and appends the
// BookingCreated event atomically. Returns the new booking.
func (s *Service) Create(ctx context.Context, guestID int64, sku string, quantity int, amountCents int64, correlationID string) (model.Booking, error) {
	if sku == "" || quantity <= 0 || amountCents <= 0 {
		return model.Booking{}, ErrInvalidRequest
	}

	guest, err := s.guests.GetByID(ctx, guestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Booking{}, ErrGuestNotFound
		}
		return model.Booking{}, fmt.Errorf("guest lookup: %w", err)
	}
	if guest.Status != "active" {
		return model.Booking{}, ErrGuestSuspended
	}

	b := model.Booking{
		ID:            util.NewULID(),
		GuestID:       guestID,
		SKU:           sku,
		Quantity:      quantity,
		AmountCents:   amountCents,
		Status:        model.BookingPending,
		CorrelationID: correlationID,
	}

	err = s.txm.RunTx(ctx, func(ctx context.Context) error {
		if err := s.bookings.Insert(ctx, b); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		return s.emit(ctx, event.TypeBookingCreated, correlationID, event.BookingCreated{
			BookingID:   b.ID,
			GuestID:     guestID,
			SKU:         sku,
			Quantity:    quantity,
			AmountCents: amountCents,
		})
	})
	if err != nil {
		return model.Booking{}, err
	}

	return b, nil
}

// Cancel moves a PENDING booking to CANCELLED and announces it. Cancelling an
// already-cancelled booking is a no-op that emits nothing. A CONFIRMED booking
// is refused with ErrBookingFinal: its payment was captured, and unwinding
// that needs a refund flow, not a cancellation.
func (s *Service) Cancel(ctx context.Context, id, reason string) (model.Booking, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status == model.BookingConfirmed {
		return model.Booking{}, ErrBookingFinal
	}

	var changed bool
	err = s.txm.RunTx(ctx, func(ctx context.Context) error {
		var txErr error
		changed, txErr = s.bookings.Transition(ctx, id, model.BookingCancelled, model.BookingPending)
		if txErr != nil {
			return txErr
		}
		if !changed {
			return nil
		}
		return s.emit(ctx, event.TypeBookingCancelled, b.CorrelationID, event.BookingCancelled{
			BookingID: id,
			Reason:    reason,
		})
	})
	if err != nil {
		return model.Booking{}, err
	}

	if !changed && b.Status != model.BookingCancelled {
		// Confirmation won the race between our read and the update.
		return model.Booking{}, ErrBookingFinal
	}

	b.Status = model.BookingCancelled
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Booking, error) {
	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Booking{}, ErrBookingNotFound
		}
		return model.Booking{}, err
	}
	return b, nil
}

// ---- consumer handlers ----

// HandleReservationFailed cancels the booking when inventory could not be
// reserved. Idempotent: a booking already past PENDING stays put.
func (s *Service) HandleReservationFailed(ctx context.Context, env event.Envelope) error {
	var data event.InventoryReservationFailed
	if err := env.DecodeData(&data); err != nil {
		return err
	}
	return s.transition(ctx, data.BookingID, model.BookingCancelled, model.BookingPending)
}

// HandlePaymentSucceeded confirms the booking.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, env event.Envelope) error {
	var data event.PaymentSucceeded
	if err := env.DecodeData(&data); err != nil {
		return err
	}
	return s.transition(ctx, data.BookingID, model.BookingConfirmed, model.BookingPending)
}

// HandlePaymentFailed cancels the booking after a failed charge.
func (s *Service) HandlePaymentFailed(ctx context.Context, env event.Envelope) error {
	var data event.PaymentFailed
	if err := env.DecodeData(&data); err != nil {
		return err
	}
	return s.transition(ctx, data.BookingID, model.BookingCancelled, model.BookingPending)
}

// HandleReservationExpired cancels the booking whose lease lapsed unpaid.
func (s *Service) HandleReservationExpired(ctx context.Context, env event.Envelope) error {
	var data event.ReservationExpired
	if err := env.DecodeData(&data); err != nil {
		return err
	}
	return s.transition(ctx, data.BookingID, model.BookingCancelled, model.BookingPending)
}

func (s *Service) transition(ctx context.Context, id string, to model.BookingStatus, from ...model.BookingStatus) error {
	return s.txm.RunTx(ctx, func(ctx context.Context) error {
		// Not-changed means the effect was already applied, or overtaken by a
		// competing transition. Success either way.
		_, err := s.bookings.Transition(ctx, id, to, from...)
		return err
	})
}

func (s *Service) emit(ctx context.Context, eventType, correlationID string, data any) error {
	env, err := event.NewEnvelope(eventType, correlationID, data)
	if err != nil {
		return err
	}
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	if _, err := s.outbox.Insert(ctx, eventType, payload); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
