package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/studentrooms/booking-backend/internal/database"
	"github.com/studentrooms/booking-backend/internal/mirror"
	"github.com/studentrooms/booking-backend/internal/models"
)

// RoomSource is the source-of-truth room store
type RoomSource interface {
	GetByID(ctx context.Context, id string) (*models.Room, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Room, error)
	AppendPeriods(ctx context.Context, roomID string, claims models.PeriodClaims) error
	RemovePeriodsByOwner(ctx context.Context, roomID, correlationID string) (int, error)
}

// RoomContentStore upserts authored room fields into the source of truth
type RoomContentStore interface {
	UpsertContent(ctx context.Context, room *models.Room) (*models.Room, error)
}

// RoomMirror is the read-optimized room store
type RoomMirror interface {
	AppendPeriods(ctx context.Context, roomID string, claims models.PeriodClaims) error
	RemovePeriodsByOwner(ctx context.Context, roomID, correlationID string) (int, error)
}

// DocumentMirror receives relayed documents
type DocumentMirror interface {
	RoomMirror
	SaveRoom(ctx context.Context, room *models.Room) error
	DeleteRoom(ctx context.Context, id string) error
	PutDocument(ctx context.Context, collection, id string, doc json.RawMessage) error
	DeleteDocument(ctx context.Context, collection, id string) error
}

// HoldStore persists provisional holds
type HoldStore interface {
	ReserveBatch(ctx context.Context, batch []models.HoldRequest, ttl time.Duration, guard database.HoldGuard) ([]models.ProvisionalHold, error)
	ListValid(ctx context.Context) ([]models.ProvisionalHold, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// GuestStore persists guest identities
type GuestStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Guest, error)
	Create(ctx context.Context, guest *models.Guest) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
}

// BookingStore persists bookings and their payment progress
type BookingStore interface {
	Create(ctx context.Context, booking *models.Booking) error
	CreateForCorrelation(ctx context.Context, booking *models.Booking) error
	GetByCorrelationID(ctx context.Context, correlationID string) (*models.Booking, error)
	GetByPaymentReference(ctx context.Context, reference string) (*models.Booking, error)
	MarkDepositPaid(ctx context.Context, id uuid.UUID) error
	MarkSummerPaid(ctx context.Context, id uuid.UUID) error
	AppendPaidMonth(ctx context.Context, id uuid.UUID, month string) (bool, error)
	CancelByCorrelationID(ctx context.Context, correlationID string) (bool, error)
}

// CorrelationStore persists payment correlation records
type CorrelationStore interface {
	Create(ctx context.Context, rec *models.PaymentCorrelation) error
	GetByCorrelationID(ctx context.Context, correlationID string) (*models.PaymentCorrelation, error)
	GetByExternalID(ctx context.Context, rail models.PaymentRail, externalID string) (*models.PaymentCorrelation, error)
	Delete(ctx context.Context, correlationID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// PaymentAuditStore records webhook deliveries
type PaymentAuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	WasProcessed(ctx context.Context, rail models.PaymentRail, eventID string) (bool, error)
}

var (
	_ RoomSource        = (*database.RoomRepository)(nil)
	_ RoomContentStore  = (*database.RoomRepository)(nil)
	_ DocumentMirror    = (*mirror.Store)(nil)
	_ HoldStore         = (*database.HoldRepository)(nil)
	_ GuestStore        = (*database.GuestRepository)(nil)
	_ BookingStore      = (*database.BookingRepository)(nil)
	_ CorrelationStore  = (*database.PaymentCorrelationRepository)(nil)
	_ PaymentAuditStore = (*database.PaymentAuditRepository)(nil)
)
