package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/jmehdipour/booking-saga/internal/service/inventory"
)

func getRoomHandler(svc *inventory.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		room, err := svc.GetRoom(c.Request().Context(), c.Param("sku"))
		if err != nil {
			if errors.Is(err, inventory.ErrRoomNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "room not found"})
			}

			log.Errorf("get room failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"sku":                room.SKU,
			"description":        room.Description,
			"total_quantity":     room.TotalQuantity,
			"available_quantity": room.AvailableQuantity,
		})
	}
}
