package repository

import (
	"context"

	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmoiron/sqlx"
)

// GuestRepository defines persistence for the guests table (user service).
type GuestRepository interface {
	GetByID(ctx context.Context, id int64) (model.Guest, error)
	Upsert(ctx context.Context, g model.Guest) error
}

type guestRepo struct {
	db *sqlx.DB
}

func NewGuestRepository(db *sqlx.DB) GuestRepository {
	return &guestRepo{db: db}
}

func (r *guestRepo) GetByID(ctx context.Context, id int64) (model.Guest, error) {
	const q = `
		SELECT id, name, email, status, created_at, updated_at
		FROM guests
		WHERE id = ?
	`
	var g model.Guest
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &g, q, id); err != nil {
		return model.Guest{}, mapNoRows(err)
	}
	return g, nil
}

func (r *guestRepo) Upsert(ctx context.Context, g model.Guest) error {
	const q = `
		INSERT INTO guests (name, email, status, created_at, updated_at)
		VALUES (?, ?, ?, NOW(6), NOW(6))
		ON DUPLICATE KEY UPDATE
		    name = VALUES(name),
		    status = VALUES(status),
		    updated_at = VALUES(updated_at)
	`
	_, err := ext(ctx, r.db).ExecContext(ctx, q, g.Name, g.Email, g.Status)
	return err
}
