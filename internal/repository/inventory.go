package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/booking-saga/internal/model"
	"github.com/jmoiron/sqlx"
)

// InventoryRepository defines persistence for rooms and reservations.
type InventoryRepository interface {
	GetRoom(ctx context.Context, sku string) (model.Room, error)
	UpsertRoom(ctx context.Context, room model.Room) error

	// AdjustAvailable changes available_quantity by delta, refusing to go
	// negative. Returns false when the guard rejected the change (insufficient
	// quantity for a decrement).
	AdjustAvailable(ctx context.Context, sku string, delta int) (bool, error)

	InsertReservation(ctx context.Context, res model.Reservation) error
	GetReservationByBooking(ctx context.Context, bookingID string) (model.Reservation, error)

	// TransitionReservation moves a reservation from one status to another.
	// Returns false when the reservation was not in the expected status.
	TransitionReservation(ctx context.Context, id string, from, to model.ReservationStatus) (bool, error)

	// DueForExpiry lists RESERVED leases whose expires_at has passed.
	DueForExpiry(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
}

type inventoryRepo struct {
	db *sqlx.DB
}

func NewInventoryRepository(db *sqlx.DB) InventoryRepository {
	return &inventoryRepo{db: db}
}

func (r *inventoryRepo) GetRoom(ctx context.Context, sku string) (model.Room, error) {
	const q = `
		SELECT sku, description, total_quantity, available_quantity, created_at, updated_at
		FROM rooms
		WHERE sku = ?
	`
	var room model.Room
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &room, q, sku); err != nil {
		return model.Room{}, mapNoRows(err)
	}
	return room, nil
}

func (r *inventoryRepo) UpsertRoom(ctx context.Context, room model.Room) error {
	const q = `
		INSERT INTO rooms (sku, description, total_quantity, available_quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(6), NOW(6))
		ON DUPLICATE KEY UPDATE
		    description = VALUES(description),
		    total_quantity = VALUES(total_quantity),
		    updated_at = VALUES(updated_at)
	`
	_, err := ext(ctx, r.db).ExecContext(ctx, q,
		room.SKU, room.Description, room.TotalQuantity, room.AvailableQuantity,
	)
	return err
}

func (r *inventoryRepo) AdjustAvailable(ctx context.Context, sku string, delta int) (bool, error) {
	const q = `
		UPDATE rooms
		SET available_quantity = available_quantity + ?, updated_at = NOW(6)
		WHERE sku = ? AND available_quantity + ? >= 0
	`
	res, err := ext(ctx, r.db).ExecContext(ctx, q, delta, sku, delta)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *inventoryRepo) InsertReservation(ctx context.Context, res model.Reservation) error {
	const q = `
		INSERT INTO reservations
		    (id, booking_id, sku, quantity, status, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW(6), NOW(6))
	`
	_, err := ext(ctx, r.db).ExecContext(ctx, q,
		res.ID, res.BookingID, res.SKU, res.Quantity, res.Status.String(), res.ExpiresAt,
	)
	return err
}

func (r *inventoryRepo) GetReservationByBooking(ctx context.Context, bookingID string) (model.Reservation, error) {
	const q = `
		SELECT id, booking_id, sku, quantity, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE booking_id = ?
	`
	var res model.Reservation
	if err := sqlx.GetContext(ctx, ext(ctx, r.db), &res, q, bookingID); err != nil {
		return model.Reservation{}, mapNoRows(err)
	}
	return res, nil
}

func (r *inventoryRepo) TransitionReservation(ctx context.Context, id string, from, to model.ReservationStatus) (bool, error) {
	const q = `
		UPDATE reservations
		SET status = ?, updated_at = NOW(6)
		WHERE id = ? AND status = ?
	`
	res, err := ext(ctx, r.db).ExecContext(ctx, q, to.String(), id, from.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *inventoryRepo) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, booking_id, sku, quantity, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE status = 'RESERVED' AND expires_at < ?
		ORDER BY expires_at ASC
		LIMIT ?
	`
	var recs []model.Reservation
	if err := sqlx.SelectContext(ctx, ext(ctx, r.db), &recs, q, now, limit); err != nil {
		return nil, err
	}
	return recs, nil
}
