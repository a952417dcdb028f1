package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/booking-saga/internal/logger"
	"github.com/jmehdipour/booking-saga/internal/service/inventory"
)

// Sweeper periodically expires lapsed reservation leases. It backs up the
// lazy-expiry reads: leases nobody looks at still get closed and their
// quantity returned.
type Sweeper struct {
	Inventory *inventory.Service

	Interval  time.Duration
	BatchSize int
}

func NewSweeper(inv *inventory.Service) *Sweeper {
	return &Sweeper{
		Inventory: inv,
		Interval:  time.Minute,
		BatchSize: 100,
	}
}

// Run blocks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	if w.Interval <= 0 {
		w.Interval = time.Minute
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 100
	}

	tick := time.NewTicker(w.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			n, err := w.Inventory.ExpireSweep(ctx, w.BatchSize)
			if err != nil {
				logger.Log.Error("reservation sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Log.Info("expired lapsed reservations", zap.Int("count", n))
			}
		}
	}
}
