package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/studentrooms/booking-backend/internal/models"
)

// RoomRepository handles room documents in the source-of-truth store
type RoomRepository struct {
	db *sqlx.DB
}

// NewRoomRepository creates a new RoomRepository
func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

const roomColumns = `id, title, location, winter_price, summer_price,
	available_semesters, booked_periods, created_at, updated_at`

// GetByID returns the room, or nil when it does not exist
func (r *RoomRepository) GetByID(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

	err := r.db.GetContext(ctx, &room, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

// GetByIDs returns the rooms that exist among ids, keyed by id
func (r *RoomRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Room, error) {
	rooms := make(map[string]*models.Room, len(ids))
	if len(ids) == 0 {
		return rooms, nil
	}

	query, args, err := sqlx.In(`SELECT `+roomColumns+` FROM rooms WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build room query: %w", err)
	}
	query = r.db.Rebind(query)

	var list []models.Room
	if err := r.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get rooms: %w", err)
	}

	for i := range list {
		rooms[list[i].ID] = &list[i]
	}
	return rooms, nil
}

// UpsertContent writes the authored fields of a room and returns the stored row.
// booked_periods is owned by bookings and is never taken from the caller.
func (r *RoomRepository) UpsertContent(ctx context.Context, room *models.Room) (*models.Room, error) {
	query := `
		INSERT INTO rooms (id, title, location, winter_price, summer_price,
			available_semesters, booked_periods, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '[]'::jsonb, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			location = EXCLUDED.location,
			winter_price = EXCLUDED.winter_price,
			summer_price = EXCLUDED.summer_price,
			available_semesters = EXCLUDED.available_semesters,
			updated_at = NOW()
		RETURNING ` + roomColumns

	var stored models.Room
	err := r.db.GetContext(ctx, &stored, query,
		room.ID, room.Title, room.Location, room.WinterPrice, room.SummerPrice, room.AvailableSemesters,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert room: %w", err)
	}
	return &stored, nil
}

// AppendPeriods appends claims to the room's booked periods in a single statement
func (r *RoomRepository) AppendPeriods(ctx context.Context, roomID string, claims models.PeriodClaims) error {
	if len(claims) == 0 {
		return nil
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("failed to encode periods: %w", err)
	}

	query := `
		UPDATE rooms
		SET booked_periods = COALESCE(booked_periods, '[]'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, roomID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to append booked periods: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// RemovePeriodsByOwner strips every claim whose key starts with the correlation
// id. The array is read, filtered and written back whole; a concurrent append
// between the two statements is lost (last write wins).
func (r *RoomRepository) RemovePeriodsByOwner(ctx context.Context, roomID, correlationID string) (int, error) {
	var current models.PeriodClaims
	err := r.db.GetContext(ctx, &current, `SELECT booked_periods FROM rooms WHERE id = $1`, roomID)
	if err == sql.ErrNoRows {
		return 0, ErrRoomNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read booked periods: %w", err)
	}

	kept, removed := current.WithoutOwner(correlationID)
	if removed == 0 {
		return 0, nil
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE rooms SET booked_periods = $2, updated_at = NOW() WHERE id = $1`,
		roomID, kept,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to write booked periods: %w", err)
	}

	return removed, nil
}
