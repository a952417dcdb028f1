package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/jmehdipour/booking-saga/internal/config"
	"github.com/jmehdipour/booking-saga/internal/db"
	"github.com/jmehdipour/booking-saga/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo guests and rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo guests and rooms...")

		if err := seedGuests(sqlDB); err != nil {
			return err
		}
		if err := seedRooms(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedGuests inserts deterministic demo guests (idempotent).
func seedGuests(dbx *sqlx.DB) error {
	guests := []model.Guest{
		{Name: "Ada Lovelace", Email: "ada@example.com", Status: "active"},
		{Name: "Grace Hopper", Email: "grace@example.com", Status: "active"},
		{Name: "Alan Turing", Email: "alan@example.com", Status: "active"},
		{Name: "Suspended Sam", Email: "sam@example.com", Status: "suspended"},
	}

	// idempotent upsert based on email (UNIQUE)
	const q = `
INSERT INTO guests
    (name, email, status, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    status     = VALUES(status),
    updated_at = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, g := range guests {
		if _, err := tx.Exec(q, g.Name, g.Email, g.Status, now, now); err != nil {
			return fmt.Errorf("insert guest %q: %w", g.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit guests: %w", err)
	}
	return nil
}

// seedRooms inserts demo rooms; available_quantity is only set on first insert
// so reseeding never clobbers live reservations.
func seedRooms(dbx *sqlx.DB) error {
	rooms := []model.Room{
		{SKU: "ROOM-101", Description: "Standard double, garden view", TotalQuantity: 5, AvailableQuantity: 5},
		{SKU: "ROOM-201", Description: "Deluxe suite, sea view", TotalQuantity: 2, AvailableQuantity: 2},
		{SKU: "ROOM-301", Description: "Penthouse", TotalQuantity: 1, AvailableQuantity: 1},
	}

	const q = `
INSERT INTO rooms
    (sku, description, total_quantity, available_quantity, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    description    = VALUES(description),
    total_quantity = VALUES(total_quantity),
    updated_at     = VALUES(updated_at)
`
	now := time.Now()
	for _, r := range rooms {
		if _, err := dbx.Exec(q, r.SKU, r.Description, r.TotalQuantity, r.AvailableQuantity, now, now); err != nil {
			return fmt.Errorf("insert room %q: %w", r.SKU, err)
		}
	}
	return nil
}
