package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jmehdipour/booking-saga/internal/broker"
	"github.com/jmehdipour/booking-saga/internal/config"
	"github.com/jmehdipour/booking-saga/internal/consumer"
	"github.com/jmehdipour/booking-saga/internal/db"
	"github.com/jmehdipour/booking-saga/internal/event"
	"github.com/jmehdipour/booking-saga/internal/gateway"
	"github.com/jmehdipour/booking-saga/internal/idempotency"
	"github.com/jmehdipour/booking-saga/internal/logger"
	"github.com/jmehdipour/booking-saga/internal/metrics"
	"github.com/jmehdipour/booking-saga/internal/repository"
	bookingsvc "github.com/jmehdipour/booking-saga/internal/service/booking"
	inventorysvc "github.com/jmehdipour/booking-saga/internal/service/inventory"
	paymentsvc "github.com/jmehdipour/booking-saga/internal/service/payment"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Start a service consumer (booking | inventory | payment)",
}

var consumerBookingCmd = &cobra.Command{
	Use:   "booking",
	Short: "Run the booking service consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsumer(cmd, "booking")
	},
}

var consumerInventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Run the inventory service consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsumer(cmd, "inventory")
	},
}

var consumerPaymentCmd = &cobra.Command{
	Use:   "payment",
	Short: "Run the payment service consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsumer(cmd, "payment")
	},
}

func init() {
	consumerCmd.AddCommand(consumerBookingCmd)
	consumerCmd.AddCommand(consumerInventoryCmd)
	consumerCmd.AddCommand(consumerPaymentCmd)
}

func runConsumer(cmd *cobra.Command, service string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger.Init("info")
	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := connectMySQL(cfg)
	if err != nil {
		return err
	}
	defer dbx.Close()

	redisClient, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	client := broker.NewClient(broker.Config{
		URL:                cfg.Rabbit.URL,
		MaxConnectAttempts: cfg.Rabbit.MaxConnectAttempts,
		ConnectBaseBackoff: cfg.Rabbit.ConnectBaseBackoff,
		ConnectMaxBackoff:  cfg.Rabbit.ConnectMaxBackoff,
		PublishTimeout:     cfg.Rabbit.PublishTimeout,
	})
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}

	var r *consumer.Runner
	switch service {
	case "booking":
		r = bookingRunner(cfg, client, dbx)
	case "inventory":
		r = inventoryRunner(cfg, client, dbx)
	case "payment":
		r, err = paymentRunner(cfg, client, dbx)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown service %q", service)
	}

	r.Dedup = idempotency.NewRedisCache(redisClient, cfg.Redis.DedupTTL)
	if cfg.Consumer.HandleTimeout > 0 {
		r.HandleTimeout = cfg.Consumer.HandleTimeout
	}
	if cfg.Consumer.DefaultMaxAttempts > 0 {
		r.DefaultPolicy = consumer.Policy{MaxAttempts: cfg.Consumer.DefaultMaxAttempts}
	}

	log.Printf(">> %s consumer started queue=%s bindings=%v", service, r.Queue, r.Bindings)

	return r.Run(ctx)
}

// bookingRunner reacts to saga outcomes by moving the booking to its terminal
// status.
func bookingRunner(cfg config.Config, client *broker.Client, dbx *sqlx.DB) *consumer.Runner {
	txm := repository.NewTxManager(dbx)
	outboxRepo := repository.NewOutboxRepository(dbx, cfg.Outbox.ClaimTTL)
	deadLetters := repository.NewDeadLetterRepository(dbx)

	svc := bookingsvc.New(txm,
		repository.NewBookingRepository(dbx),
		repository.NewGuestRepository(dbx),
		outboxRepo,
	)

	r := consumer.NewRunner(client, deadLetters, "booking-service", []string{
		"inventory.reservation_failed",
		"inventory.reservation_expired",
		"payment.succeeded",
		"payment.failed",
	})

	r.Handle(event.TypeInventoryReservationFailed, budget(cfg, event.TypeInventoryReservationFailed, 5), svc.HandleReservationFailed)
	r.Handle(event.TypeReservationExpired, budget(cfg, event.TypeReservationExpired, 5), svc.HandleReservationExpired)
	r.Handle(event.TypePaymentSucceeded, budget(cfg, event.TypePaymentSucceeded, 3), svc.HandlePaymentSucceeded)
	r.Handle(event.TypePaymentFailed, budget(cfg, event.TypePaymentFailed, 5), svc.HandlePaymentFailed)

	return r
}

// inventoryRunner holds and releases room quantity as the saga progresses.
func inventoryRunner(cfg config.Config, client *broker.Client, dbx *sqlx.DB) *consumer.Runner {
	txm := repository.NewTxManager(dbx)
	outboxRepo := repository.NewOutboxRepository(dbx, cfg.Outbox.ClaimTTL)
	deadLetters := repository.NewDeadLetterRepository(dbx)

	svc := inventorysvc.New(txm,
		repository.NewInventoryRepository(dbx),
		outboxRepo,
		cfg.Inventory.ReservationTTL,
	)

	r := consumer.NewRunner(client, deadLetters, "inventory-service", []string{
		"booking.created",
		"booking.cancelled",
		"payment.succeeded",
		"payment.failed",
	})

	r.Handle(event.TypeBookingCreated, budget(cfg, event.TypeBookingCreated, 3), svc.HandleBookingCreated)
	// Releases are compensating actions: generous budgets, because giving up
	// strands held quantity until the sweeper catches it.
	r.Handle(event.TypeBookingCancelled, budget(cfg, event.TypeBookingCancelled, 5), svc.HandleBookingCancelled)
	r.Handle(event.TypePaymentFailed, budget(cfg, event.TypePaymentFailed, 5), svc.HandlePaymentFailed)
	// Confirmation is informational; the lease expiry path covers a miss.
	r.Handle(event.TypePaymentSucceeded,
		consumer.Policy{MaxAttempts: maxAttempts(cfg, event.TypePaymentSucceeded, 3), LogAndContinue: true},
		svc.HandlePaymentSucceeded)

	return r
}

// paymentRunner charges bookings once inventory is held.
func paymentRunner(cfg config.Config, client *broker.Client, dbx *sqlx.DB) (*consumer.Runner, error) {
	txm := repository.NewTxManager(dbx)
	outboxRepo := repository.NewOutboxRepository(dbx, cfg.Outbox.ClaimTTL)
	deadLetters := repository.NewDeadLetterRepository(dbx)

	var provs []gateway.Provider
	for _, pc := range cfg.Payment.Providers {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}
		provs = append(provs, gateway.NewHTTPProvider(
			pc.Name,
			strings.TrimRight(pc.BaseURL, "/"),
			pc.ChargePath,
			pc.TimeoutMs,
			pc.Breaker.FailThreshold,
			pc.Breaker.OpenForMs,
		))
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("no payment providers enabled in config")
	}
	disp := gateway.NewDispatcher(provs, cfg.Payment.DispatchMaxAttempts)

	svc := paymentsvc.New(txm,
		repository.NewPaymentRepository(dbx),
		outboxRepo,
		disp,
		cfg.Payment.MaxRetries,
	)

	r := consumer.NewRunner(client, deadLetters, "payment-service", []string{
		"inventory.reserved",
	})

	r.Handle(event.TypeInventoryReserved, budget(cfg, event.TypeInventoryReserved, 5), svc.HandleInventoryReserved)

	return r, nil
}

// budget reads the per-event retry budget, falling back to the given default.
func budget(cfg config.Config, eventName string, fallback int) consumer.Policy {
	return consumer.Policy{MaxAttempts: maxAttempts(cfg, eventName, fallback)}
}

func maxAttempts(cfg config.Config, eventName string, fallback int) int {
	if n, ok := cfg.Consumer.RetryBudgets[eventName]; ok && n > 0 {
		return n
	}
	return fallback
}
