package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/jmehdipour/booking-saga/internal/repository"
)

func listDeadLettersHandler(repo repository.DeadLetterRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 100
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		recs, err := repo.ListUnresolved(c.Request().Context(), limit)
		if err != nil {
			log.Errorf("list dead letters failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		results := make([]map[string]any, 0, len(recs))
		for _, rec := range recs {
			results = append(results, map[string]any{
				"id":            rec.ID,
				"source_queue":  rec.SourceQueue,
				"event_type":    rec.EventType,
				"payload":       string(rec.Payload),
				"error_message": rec.ErrorMessage,
				"attempt_count": rec.AttemptCount,
				"failed_at":     rec.FailedAt,
			})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(results),
			"results": results,
		})
	}
}

type resolveDeadLetterReq struct {
	Notes      string `json:"notes"`
	ResolvedBy string `json:"resolved_by"`
}

func resolveDeadLetterHandler(repo repository.DeadLetterRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req resolveDeadLetterReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.ResolvedBy = strings.TrimSpace(req.ResolvedBy)
		if req.ResolvedBy == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "resolved_by required"})
		}

		if err := repo.Resolve(c.Request().Context(), c.Param("id"), req.Notes, req.ResolvedBy); err != nil {
			log.Errorf("resolve dead letter failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id"), "resolved": "true"})
	}
}
