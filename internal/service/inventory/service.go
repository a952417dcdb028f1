package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/booking-saga/internal/event"
	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmehdipour/booking-saga/internal/repository"
	"github.com/jmehdipour/booking-saga/internal/util"
)

var (
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrRoomNotFound          = errors.New("room not found")
)

// Service owns rooms and reservations. A reservation is a lease: it holds
// decremented quantity until payment confirms it, an explicit release frees
// it, or the lease expires.
type Service struct {
	txm    repository.TxManager
	inv    repository.InventoryRepository
	outbox repository.OutboxRepository

	leaseTTL time.Duration
	now      func() time.Time
}

func New(txm repository.TxManager, inv repository.InventoryRepository, outbox repository.OutboxRepository, leaseTTL time.Duration) *Service {
	if leaseTTL <= 0 {
		leaseTTL = 15 * time.Minute
	}
	return &Service{txm: txm, inv: inv, outbox: outbox, leaseTTL: leaseTTL, now: time.Now}
}

// Reserve creates a lease for a booking, decrementing availability in the same
// transaction. Idempotent on booking id: a repeated call returns the existing
// reservation untouched. On insufficient quantity it emits the failure event
// (downstream compensation depends on that signal) and reports
// ErrInsufficientInventory.
func (s *Service) Reserve(ctx context.Context, bookingID, sku string, quantity int, amountCents int64, correlationID string) (model.Reservation, error) {
	existing, err := s.inv.GetReservationByBooking(ctx, bookingID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.Reservation{}, fmt.Errorf("reservation lookup: %w", err)
	}

	if _, err := s.inv.GetRoom(ctx, sku); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if err := s.emitFailure(ctx, bookingID, sku, quantity, "unknown sku", correlationID); err != nil {
				return model.Reservation{}, err
			}
			return model.Reservation{}, ErrRoomNotFound
		}
		return model.Reservation{}, fmt.Errorf("room lookup: %w", err)
	}

	res := model.Reservation{
		ID:        util.NewULID(),
		BookingID: bookingID,
		SKU:       sku,
		Quantity:  quantity,
		Status:    model.ReservationReserved,
		ExpiresAt: s.now().Add(s.leaseTTL).UTC(),
	}

	var insufficient bool
	err = s.txm.RunTx(ctx, func(ctx context.Context) error {
		ok, err := s.inv.AdjustAvailable(ctx, sku, -quantity)
		if err != nil {
			return fmt.Errorf("decrement availability: %w", err)
		}
		if !ok {
			insufficient = true
			return nil
		}

		if err := s.inv.InsertReservation(ctx, res); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		return s.emit(ctx, event.TypeInventoryReserved, correlationID, event.InventoryReserved{
			ReservationID: res.ID,
			BookingID:     bookingID,
			SKU:           sku,
			Quantity:      quantity,
			AmountCents:   amountCents,
			ExpiresAt:     res.ExpiresAt,
		})
	})
	if err != nil {
		return model.Reservation{}, err
	}

	if insufficient {
		if err := s.emitFailure(ctx, bookingID, sku, quantity, "insufficient quantity", correlationID); err != nil {
			return model.Reservation{}, err
		}
		return model.Reservation{}, ErrInsufficientInventory
	}

	return res, nil
}

// Confirm marks the lease CONFIRMED after a successful payment. This is the
// informational leg of the saga: a no-op when the reservation is missing or
// already past RESERVED.
func (s *Service) Confirm(ctx context.Context, bookingID string) error {
	res, err := s.inv.GetReservationByBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	if res.ExpiredAt(s.now()) {
		// Lazy expiry beat the confirmation; the sweep (or this read) already
		// decided the lease's fate.
		return s.expireOne(ctx, res)
	}
	if res.Status != model.ReservationReserved {
		return nil
	}

	return s.txm.RunTx(ctx, func(ctx context.Context) error {
		_, err := s.inv.TransitionReservation(ctx, res.ID, model.ReservationReserved, model.ReservationConfirmed)
		return err
	})
}

// Release is the compensating action: it returns the held quantity and marks
// the lease RELEASED. It succeeds when there is nothing to release: a
// compensation must not fail because the forward action never completed.
// Only RESERVED leases are releasable; a CONFIRMED lease sits on a captured
// payment, so its quantity is spent and stays off the market.
func (s *Service) Release(ctx context.Context, bookingID string) error {
	res, err := s.inv.GetReservationByBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	switch res.Status {
	case model.ReservationReleased, model.ReservationExpired:
		// Quantity already restored.
		return nil
	case model.ReservationConfirmed:
		// Terminal success. Undoing it would return the room to stock while
		// the guest stays charged; that takes a refund flow, not a release.
		return nil
	}

	return s.txm.RunTx(ctx, func(ctx context.Context) error {
		changed, err := s.inv.TransitionReservation(ctx, res.ID, model.ReservationReserved, model.ReservationReleased)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if _, err := s.inv.AdjustAvailable(ctx, res.SKU, +res.Quantity); err != nil {
			return fmt.Errorf("restore availability: %w", err)
		}
		return nil
	})
}

// GetReservation applies lazy expiry on read: a lapsed RESERVED lease is
// expired before being returned.
func (s *Service) GetReservation(ctx context.Context, bookingID string) (model.Reservation, error) {
	res, err := s.inv.GetReservationByBooking(ctx, bookingID)
	if err != nil {
		return model.Reservation{}, err
	}

	if res.ExpiredAt(s.now()) {
		if err := s.expireOne(ctx, res); err != nil {
			return model.Reservation{}, err
		}
		res.Status = model.ReservationExpired
	}
	return res, nil
}

func (s *Service) GetRoom(ctx context.Context, sku string) (model.Room, error) {
	room, err := s.inv.GetRoom(ctx, sku)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Room{}, ErrRoomNotFound
		}
		return model.Room{}, err
	}
	return room, nil
}

// ExpireSweep is the safety net against lost compensating events: it expires
// every lapsed lease and returns how many it closed.
func (s *Service) ExpireSweep(ctx context.Context, limit int) (int, error) {
	due, err := s.inv.DueForExpiry(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, res := range due {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if err := s.expireOne(ctx, res); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// expireOne closes one lapsed lease: status flip, quantity restore and the
// expiry event, atomically. Racing sweeps collapse on the status transition.
func (s *Service) expireOne(ctx context.Context, res model.Reservation) error {
	return s.txm.RunTx(ctx, func(ctx context.Context) error {
		changed, err := s.inv.TransitionReservation(ctx, res.ID, model.ReservationReserved, model.ReservationExpired)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if _, err := s.inv.AdjustAvailable(ctx, res.SKU, +res.Quantity); err != nil {
			return fmt.Errorf("restore availability: %w", err)
		}
		return s.emit(ctx, event.TypeReservationExpired, "", event.ReservationExpired{
			ReservationID: res.ID,
			BookingID:     res.BookingID,
			SKU:           res.SKU,
			Quantity:      res.Quantity,
		})
	})
}

// ---- consumer handlers ----

// HandleBookingCreated is the forward action: reserve inventory for a new
// booking. Business-rule failures are signalled via the failure event and
// swallowed; only transient errors bubble up for retry.
func (s *Service) HandleBookingCreated(ctx context.Context, env event.Envelope) error {
	var data event.BookingCreated
	if err := env.DecodeData(&data); err != nil {
		return err
	}

	_, err := s.Reserve(ctx, data.BookingID, data.SKU, data.Quantity, data.AmountCents, env.CorrelationID)
	if errors.Is(err, ErrInsufficientInventory) || errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	return err
}

// HandlePaymentSucceeded confirms the lease (informational).
func (s *Service) HandlePaymentSucceeded(ctx context.Context, env event.Envelope) error {
	var data event.PaymentSucceeded
	if err := env.DecodeData(&data); err != nil {
		return err
	}
	return s.Confirm(ctx, data.BookingID)
}

// HandlePaymentFailed releases the lease (compensating).
func (s *Service) HandlePaymentFailed(ctx context.Context, env event.Envelope) error {
	var data event.PaymentFailed
	if err := env.DecodeData(&data); err != nil {
		return err
	}
	return s.Release(ctx, data.BookingID)
}

// HandleBookingCancelled releases the lease after an explicit cancellation.
func (s *Service) HandleBookingCancelled(ctx context.Context, env event.Envelope) error {
	var data event.BookingCancelled
	if err := env.DecodeData(&data); err != nil {
		return err
	}
	return s.Release(ctx, data.BookingID)
}

func (s *Service) emitFailure(ctx context.Context, bookingID, sku string, quantity int, reason, correlationID string) error {
	return s.txm.RunTx(ctx, func(ctx context.Context) error {
		return s.emit(ctx, event.TypeInventoryReservationFailed, correlationID, event.InventoryReservationFailed{
			BookingID: bookingID,
			SKU:       sku,
			Quantity:  quantity,
			Reason:    reason,
		})
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
