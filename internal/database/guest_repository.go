package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/studentrooms/booking-backend/internal/models"
)

// GuestRepository handles guest identities
type GuestRepository struct {
	db *sqlx.DB
}

// NewGuestRepository creates a new GuestRepository
func NewGuestRepository(db *sqlx.DB) *GuestRepository {
	return &GuestRepository{db: db}
}

// GetByEmail returns the oldest guest with this email, or nil.
// Email is a business key only; duplicates from racing first bookings can exist.
func (r *GuestRepository) GetByEmail(ctx context.Context, email string) (*models.Guest, error) {
	var guest models.Guest
	query := `
		SELECT id, email, name, age, gender, address, nationality, id_number,
		       profession, location, created_at, updated_at
		FROM guests
		WHERE LOWER(email) = LOWER($1)
		ORDER BY created_at ASC
		LIMIT 1`

	err := r.db.GetContext(ctx, &guest, query, email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guest by email: %w", err)
	}
	return &guest, nil
}

// Create inserts a new guest
func (r *GuestRepository) Create(ctx context.Context, guest *models.Guest) error {
	if guest.ID == uuid.Nil {
		guest.ID = uuid.New()
	}
	now := time.Now()
	guest.CreatedAt = now
	guest.UpdatedAt = now

	query := `
		INSERT INTO guests (
			id, email, name, age, gender, address, nationality, id_number,
			profession, location, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		guest.ID, guest.Email, guest.Name, guest.Age, guest.Gender, guest.Address,
		guest.Nationality, guest.IDNumber, guest.Profession, guest.Location,
		guest.CreatedAt, guest.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create guest: %w", err)
	}
	return nil
}

// UpdateFields patches only the given profile columns
func (r *GuestRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	allowed := make(map[string]bool, len(models.GuestProfileColumns))
	for _, col := range models.GuestProfileColumns {
		allowed[col] = true
	}

	columns := make([]string, 0, len(fields))
	for col := range fields {
		if !allowed[col] {
			return fmt.Errorf("column %q cannot be updated", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	setClauses := make([]string, 0, len(columns)+1)
	args := []interface{}{id}
	for i, col := range columns {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i+2))
		args = append(args, fields[col])
	}
	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf("UPDATE guests SET %s WHERE id = $1", strings.Join(setClauses, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update guest: %w", err)
	}
	return nil
}
