package worker

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/booking-saga/internal/logger"
	"github.com/jmehdipour/booking-saga/internal/repository"
	inventorysvc "github.com/jmehdipour/booking-saga/internal/service/inventory"
	"github.com/jmehdipour/booking-saga/internal/worker"
)

var sweeperCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Run the reservation expiry sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger.Init("info")

		dbx, err := connectMySQL(cfg)
		if err != nil {
			return err
		}
		defer dbx.Close()

		txm := repository.NewTxManager(dbx)
		svc := inventorysvc.New(txm,
			repository.NewInventoryRepository(dbx),
			repository.NewOutboxRepository(dbx, cfg.Outbox.ClaimTTL),
			cfg.Inventory.ReservationTTL,
		)

		w := worker.NewSweeper(svc)
		if cfg.Inventory.SweepInterval > 0 {
			w.Interval = cfg.Inventory.SweepInterval
		}
		if cfg.Inventory.SweepBatchSize > 0 {
			w.BatchSize = cfg.Inventory.SweepBatchSize
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf(">> sweeper started interval=%s batch=%d", w.Interval, w.BatchSize)

		return w.Run(ctx)
	},
}
