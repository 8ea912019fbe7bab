package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studentrooms/booking-backend/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPaymentCorrelationRepository(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentCorrelationRepository(db)
	now := time.Now()

	t.Run("Create", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_correlations`).WillReturnResult(sqlmock.NewResult(1, 1))

		rec := &models.PaymentCorrelation{
			Rail:          models.RailRazorpay,
			CorrelationID: "corr-1",
			ExternalID:    "sub_1",
			GuestIDs:      models.GuestIDList{uuid.New()},
			ExpiresAt:     now.Add(24 * time.Hour),
		}
		require.NoError(t, repo.Create(context.Background(), rec))
		assert.NotEqual(t, uuid.Nil, rec.ID)
	})

	t.Run("GetByExternalID", func(t *testing.T) {
		guestID := uuid.New()
		mock.ExpectQuery(`SELECT (.+) FROM payment_correlations WHERE rail = \$1 AND external_id = \$2`).
			WithArgs(models.RailRazorpay, "sub_1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "rail", "correlation_id", "external_id", "kind", "room_id", "guest_ids",
				"guest_email", "guest_name", "semester", "year", "price", "services", "booking_id",
				"created_at", "expires_at",
			}).AddRow(
				uuid.New().String(), "razorpay", "corr-1", "sub_1", "subscription", "room-1", []byte("{"+guestID.String()+"}"),
				"a@example.com", "Ana", "1st Semester", "2025/2026", 500.0, []byte(`[]`), nil,
				now, now.Add(time.Hour),
			))

		rec, err := repo.GetByExternalID(context.Background(), models.RailRazorpay, "sub_1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		primary, ok := rec.PrimaryGuestID()
		require.True(t, ok)
		assert.Equal(t, guestID, primary)
		assert.Nil(t, rec.BookingID)
	})

	t.Run("GetByCorrelationID missing", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM payment_correlations WHERE correlation_id`).
			WithArgs("gone").
			WillReturnError(sql.ErrNoRows)

		rec, err := repo.GetByCorrelationID(context.Background(), "gone")
		assert.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM payment_correlations WHERE expires_at <= NOW\(\)`).
			WillReturnResult(sqlmock.NewResult(0, 3))

		removed, err := repo.DeleteExpired(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3), removed)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentAuditRepository(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentAuditRepository(db, testLogger())

	t.Run("Log", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(1, 1))

		audit := models.NewPaymentAudit(models.RailOmise, "charge.complete").SetEventID("evnt_1")
		require.NoError(t, repo.Log(context.Background(), audit))
		assert.NotEqual(t, uuid.Nil, audit.ID)
	})

	t.Run("Log failure", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnError(errors.New("connection reset"))

		err := repo.Log(context.Background(), models.NewPaymentAudit(models.RailOmise, "charge.complete"))
		assert.Error(t, err)
	})

	t.Run("Nil entry", func(t *testing.T) {
		assert.Error(t, repo.Log(context.Background(), nil))
	})

	t.Run("WasProcessed", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_audits`).
			WithArgs(models.RailRazorpay, "evt_1", models.AuditOutcomeProcessed).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		processed, err := repo.WasProcessed(context.Background(), models.RailRazorpay, "evt_1")
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("WasProcessed without event id", func(t *testing.T) {
		processed, err := repo.WasProcessed(context.Background(), models.RailRazorpay, "")
		require.NoError(t, err)
		assert.False(t, processed)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
