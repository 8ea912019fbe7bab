package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/studentrooms/booking-backend/internal/models"
)

// HoldGuard inspects the valid holds of the locked rooms and returns an error
// to abort the reservation
type HoldGuard func(valid []models.ProvisionalHold) error

// HoldRepository handles provisional holds
type HoldRepository struct {
	db *sqlx.DB
}

// NewHoldRepository creates a new HoldRepository
func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// ReserveBatch inserts one hold per request in a single transaction.
//
// Each room in the batch is locked with a transaction-scoped advisory lock (in
// sorted order, so two batches cannot deadlock), expired holds are swept, and
// guard sees every still-valid hold on those rooms before anything is written.
// Two reservations racing for the same room are serialized by the lock, so the
// second guard always sees the first batch's holds.
func (r *HoldRepository) ReserveBatch(ctx context.Context, batch []models.HoldRequest, ttl time.Duration, guard HoldGuard) ([]models.ProvisionalHold, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	roomSet := make(map[string]bool)
	for _, req := range batch {
		roomSet[req.RoomID] = true
	}
	roomIDs := make([]string, 0, len(roomSet))
	for id := range roomSet {
		roomIDs = append(roomIDs, id)
	}
	sort.Strings(roomIDs)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, roomID := range roomIDs {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, roomID); err != nil {
			return nil, fmt.Errorf("failed to lock room %s: %w", roomID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM provisional_holds WHERE expires_at <= NOW()`); err != nil {
		return nil, fmt.Errorf("failed to sweep expired holds: %w", err)
	}

	var valid []models.ProvisionalHold
	query := `
		SELECT id, room_id, semester, year, expires_at, created_at
		FROM provisional_holds
		WHERE room_id = ANY($1) AND expires_at > NOW()
		ORDER BY created_at ASC`
	if err := tx.SelectContext(ctx, &valid, query, pq.Array(roomIDs)); err != nil {
		return nil, fmt.Errorf("failed to load valid holds: %w", err)
	}

	if guard != nil {
		if err := guard(valid); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	holds := make([]models.ProvisionalHold, 0, len(batch))

	insert := `
		INSERT INTO provisional_holds (id, room_id, semester, year, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, req := range batch {
		hold := models.ProvisionalHold{
			ID:        uuid.New(),
			RoomID:    req.RoomID,
			Semester:  req.Semester,
			Year:      req.Year,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}
		if _, err := tx.ExecContext(ctx, insert,
			hold.ID, hold.RoomID, hold.Semester, hold.Year, hold.ExpiresAt, hold.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to insert hold: %w", err)
		}
		holds = append(holds, hold)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return holds, nil
}

// ListValid sweeps expired holds and returns the remaining ones
func (r *HoldRepository) ListValid(ctx context.Context) ([]models.ProvisionalHold, error) {
	if _, err := r.DeleteExpired(ctx); err != nil {
		return nil, err
	}

	var holds []models.ProvisionalHold
	query := `
		SELECT id, room_id, semester, year, expires_at, created_at
		FROM provisional_holds
		WHERE expires_at > NOW()
		ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &holds, query); err != nil {
		return nil, fmt.Errorf("failed to list holds: %w", err)
	}
	return holds, nil
}

// DeleteExpired removes holds whose window has lapsed
func (r *HoldRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM provisional_holds WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired holds: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
