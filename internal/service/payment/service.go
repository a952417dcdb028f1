package payment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jmehdipour/booking-saga/internal/event"
	"github.com/jmehdipour/booking-saga/internal/gateway"
	"github.com/jmehdipour/booking-saga/internal/logger"
	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmehdipour/booking-saga/internal/repository"
	"github.com/jmehdipour/booking-saga/internal/util"
)

// Gateway charges the customer through the provider pool.
type Gateway interface {
	Charge(ctx context.Context, req gateway.ChargeRequest) error
}

// Service charges bookings once inventory is held. The payments row per
// booking is the ledger deciding whether a charge already happened, so a
// redelivered event never double-charges a card.
type Service struct {
	txm      repository.TxManager
	payments repository.PaymentRepository
	outbox   repository.OutboxRepository
	gw       Gateway

	maxRetries int
}

func New(txm repository.TxManager, payments repository.PaymentRepository, outbox repository.OutboxRepository, gw Gateway, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{txm: txm, payments: payments, outbox: outbox, gw: gw, maxRetries: maxRetries}
}

// HandleInventoryReserved is the charge leg of the saga. A returned error
// means a transient gateway failure and asks the consumer to redeliver;
// business outcomes (success, decline, exhausted budget) are recorded, turned
// into events and reported as handled.
func (s *Service) HandleInventoryReserved(ctx context.Context, env event.Envelope) error {
	var data event.InventoryReserved
	if err := env.DecodeData(&data); err != nil {
		return err
	}
	return s.Charge(ctx, data.BookingID, data.AmountCents, env.CorrelationID)
}

// Charge runs one charge attempt for the booking.
func (s *Service) Charge(ctx context.Context, bookingID string, amountCents int64, correlationID string) error {
	p, err := s.getOrCreate(ctx, bookingID, amountCents)
	if err != nil {
		return err
	}

	switch p.Status {
	case model.PaymentSuccess, model.PaymentFailed, model.PaymentPermanentlyFailed:
		// Terminal outcome already recorded and announced.
		return nil
	}

	chargeErr := s.gw.Charge(ctx, gateway.ChargeRequest{
		PaymentID:   p.ID,
		BookingID:   bookingID,
		AmountCents: p.AmountCents,
	})

	switch {
	case chargeErr == nil:
		return s.settle(ctx, p, correlationID)

	case errors.Is(chargeErr, gateway.ErrDeclined):
		// Definitive answer from the provider. No retry will help.
		return s.fail(ctx, p, chargeErr.Error(), correlationID)

	default:
		p.RetryCount++
		p.LastError = truncate(chargeErr.Error(), 500)
		if p.RetryCount >= s.maxRetries {
			logger.Log.Warn("payment retry budget exhausted",
				zap.String("booking_id", bookingID),
				zap.Int("attempts", p.RetryCount),
				zap.Error(chargeErr))
			return s.fail(ctx, p, p.LastError, correlationID)
		}

		if err := s.payments.Update(ctx, p); err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		return fmt.Errorf("charge booking %s: %w", bookingID, chargeErr)
	}
}

// GetByBooking exposes the payment row for the API layer.
func (s *Service) GetByBooking(ctx context.Context, bookingID string) (model.Payment, error) {
	return s.payments.GetByBooking(ctx, bookingID)
}

func (s *Service) getOrCreate(ctx context.Context, bookingID string, amountCents int64) (model.Payment, error) {
	p, err := s.payments.GetByBooking(ctx, bookingID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.Payment{}, fmt.Errorf("payment lookup: %w", err)
	}

	p = model.Payment{
		ID:          util.NewULID(),
		BookingID:   bookingID,
		AmountCents: amountCents,
		Status:      model.PaymentPending,
	}
	if err := s.payments.Insert(ctx, p); err != nil {
		// A concurrent insert on the same booking loses to the unique key;
		// re-read and continue with whatever won.
		if existing, lookupErr := s.payments.GetByBooking(ctx, bookingID); lookupErr == nil {
			return existing, nil
		}
		return model.Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	return p, nil
}

func (s *Service) settle(ctx context.Context, p model.Payment, correlationID string) error {
	p.Status = model.PaymentSuccess
	p.LastError = ""
	return s.txm.RunTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		return s.emit(ctx, event.TypePaymentSucceeded, correlationID, event.PaymentSucceeded{
			PaymentID:   p.ID,
			BookingID:   p.BookingID,
			AmountCents: p.AmountCents,
		})
	})
}

// fail records a terminal failure and announces it. Every emitted
// PaymentFailed is permanent: transient errors inside the retry budget never
// reach this path.
func (s *Service) fail(ctx context.Context, p model.Payment, reason, correlationID string) error {
	if p.RetryCount >= s.maxRetries {
		p.Status = model.PaymentPermanentlyFailed
	} else {
		p.Status = model.PaymentFailed
	}
	p.LastError = truncate(reason, 500)
	return s.txm.RunTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		return s.emit(ctx, event.TypePaymentFailed, correlationID, event.PaymentFailed{
			PaymentID:   p.ID,
			BookingID:   p.BookingID,
			AmountCents: p.AmountCents,
			Reason:      p.LastError,
			Permanent:   true,
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
