package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/jmehdipour/booking-saga/internal/repository"
	"github.com/jmehdipour/booking-saga/internal/service/booking"
	"github.com/jmehdipour/booking-saga/internal/service/inventory"
	"github.com/jmehdipour/booking-saga/internal/util"
)

type createBookingReq struct {
	GuestID       int64  `json:"guest_id"`
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity"`
	AmountCents   int64  `json:"amount_cents"`
	CorrelationID string `json:"correlation_id"` // optional, generated when absent
}

func createBookingHandler(svc *booking.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createBookingReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.SKU = strings.TrimSpace(req.SKU)
		if req.CorrelationID == "" {
			req.CorrelationID = util.NewULID()
		}

		b, err := svc.Create(c.Request().Context(),
			req.GuestID, req.SKU, req.Quantity, req.AmountCents, req.CorrelationID)
		if err != nil {
			switch {
			case errors.Is(err, booking.ErrInvalidRequest):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
			case errors.Is(err, booking.ErrGuestNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "guest not found"})
			case errors.Is(err, booking.ErrGuestSuspended):
				return c.JSON(http.StatusForbidden, map[string]string{"error": "guest suspended"})
			}

			log.Errorf("create booking failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		// 202, not 201: the saga still has to reserve inventory and charge.
		return c.JSON(http.StatusAccepted, map[string]any{
			"id":             b.ID,
			"status":         b.Status.String(),
			"correlation_id": b.CorrelationID,
		})
	}
}

type cancelBookingReq struct {
	Reason string `json:"reason"`
}

func cancelBookingHandler(svc *booking.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req cancelBookingReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		b, err := svc.Cancel(c.Request().Context(), c.Param("id"), strings.TrimSpace(req.Reason))
		if err != nil {
			if errors.Is(err, booking.ErrBookingNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "booking not found"})
			}
			if errors.Is(err, booking.ErrBookingFinal) {
				return c.JSON(http.StatusConflict, map[string]string{"error": "booking already confirmed"})
			}

			log.Errorf("cancel booking failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"id":     b.ID,
			"status": b.Status.String(),
		})
	}
}

func getBookingHandler(svc *booking.Service, invSvc *inventory.Service, payments repository.PaymentRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		b, err := svc.Get(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, booking.ErrBookingNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "booking not found"})
			}

			log.Errorf("get booking failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		resp := map[string]any{
			"id":             b.ID,
			"guest_id":       b.GuestID,
			"sku":            b.SKU,
			"quantity":       b.Quantity,
			"amount_cents":   b.AmountCents,
			"status":         b.Status.String(),
			"correlation_id": b.CorrelationID,
			"created_at":     b.CreatedAt,
		}

		if res, err := invSvc.GetReservation(ctx, b.ID); err == nil {
			resp["reservation"] = map[string]any{
				"id":         res.ID,
				"status":     res.Status.String(),
				"expires_at": res.ExpiresAt,
			}
		}
		if p, err := payments.GetByBooking(ctx, b.ID); err == nil {
			resp["payment"] = map[string]any{
				"id":          p.ID,
				"status":      p.Status.String(),
				"retry_count": p.RetryCount,
			}
		}

		return c.JSON(http.StatusOK, resp)
	}
}
