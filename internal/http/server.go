package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jmehdipour/booking-saga/internal/config"
	"github.com/jmehdipour/booking-saga/internal/http/middleware"
	"github.com/jmehdipour/booking-saga/internal/metrics"
	"github.com/jmehdipour/booking-saga/internal/repository"
	"github.com/jmehdipour/booking-saga/internal/service/booking"
	"github.com/jmehdipour/booking-saga/internal/service/inventory"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	// repos (MySQL)
	txm := repository.NewTxManager(mysqlDB)
	bookingsRepo := repository.NewBookingRepository(mysqlDB)
	guestsRepo := repository.NewGuestRepository(mysqlDB)
	inventoryRepo := repository.NewInventoryRepository(mysqlDB)
	paymentsRepo := repository.NewPaymentRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB, cfg.Outbox.ClaimTTL)
	deadLettersRepo := repository.NewDeadLetterRepository(mysqlDB)

	// repos (ClickHouse)
	chEventsRepo := repository.NewCHEventsRepository(clickhouseDB)

	// services
	bookingSvc := booking.New(txm, bookingsRepo, guestsRepo, outboxRepo)
	inventorySvc := inventory.New(txm, inventoryRepo, outboxRepo, cfg.Inventory.ReservationTTL)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", rlMW)
	v1.POST("/bookings", createBookingHandler(bookingSvc))
	v1.POST("/bookings/:id/cancel", cancelBookingHandler(bookingSvc))
	v1.GET("/bookings/:id", getBookingHandler(bookingSvc, inventorySvc, paymentsRepo))
	v1.GET("/rooms/:sku", getRoomHandler(inventorySvc))
	v1.GET("/reports/events", listEventsHandler(chEventsRepo))
	v1.GET("/admin/dead-letters", listDeadLettersHandler(deadLettersRepo))
	v1.POST("/admin/dead-letters/:id/resolve", resolveDeadLetterHandler(deadLettersRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
