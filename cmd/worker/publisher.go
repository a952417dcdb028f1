package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jmehdipour/booking-saga/internal/broker"
	"github.com/jmehdipour/booking-saga/internal/kafka"
	"github.com/jmehdipour/booking-saga/internal/logger"
	"github.com/jmehdipour/booking-saga/internal/metrics"
	"github.com/jmehdipour/booking-saga/internal/outbox"
	"github.com/jmehdipour/booking-saga/internal/repository"
	"github.com/jmehdipour/booking-saga/internal/util"
)

var publisherCmd = &cobra.Command{
	Use:   "publisher",
	Short: "Run the outbox publisher (outbox table -> broker)",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		outboxRepo := repository.NewOutboxRepository(dbx, cfg.Outbox.ClaimTTL)

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

		instanceID := util.NewULID()
		pub := outbox.NewPublisher(outboxRepo, client, instanceID)
		pub.BatchSize = cfg.Outbox.BatchSize
		pub.PollInterval = cfg.Outbox.PollInterval
		pub.MaxRetries = cfg.Outbox.MaxRetries
		pub.DrainTimeout = cfg.Outbox.DrainTimeout

		// Audit stream is optional: without Kafka brokers configured the
		// publisher runs without it.
		if len(cfg.Kafka.Brokers) > 0 {
			producer := kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.AuditTopic,
				BatchTimeout: 100 * time.Millisecond,
			})
			defer producer.Close()
			pub.Audit = kafka.NewAuditSink(producer)
		}

		log.Printf(">> outbox publisher started instance=%s batch=%d poll=%s",
			instanceID, pub.BatchSize, pub.PollInterval)

		return pub.Run(ctx)
	},
}
