package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/booking-saga/internal/db"
	"github.com/jmehdipour/booking-saga/internal/kafka"
	"github.com/jmehdipour/booking-saga/internal/logger"
	"github.com/jmehdipour/booking-saga/internal/repository"
	"github.com/jmehdipour/booking-saga/internal/worker"
)

var archiverCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Run the audit archiver (Kafka -> ClickHouse event_history)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger.Init("info")

		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		groupID := cfg.Kafka.GroupID
		if groupID == "" {
			groupID = "bksaga-archiver"
		}

		c := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.AuditTopic,
			GroupID:        groupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		})
		defer c.Close()

		w := worker.NewArchiver(c, repository.NewCHEventsRepository(chDB))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> archiver started topic=%s group=%s batchSize=%d batchWait=%s",
			cfg.Kafka.AuditTopic, groupID, w.BatchSize, w.BatchWait)

		return w.Run(ctx)
	},
}
