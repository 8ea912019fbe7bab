package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studentrooms/booking-backend/internal/models"
)

func cancellationBody(t *testing.T, fields map[string]string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return raw
}

func TestCancel_ReleasesBothStores(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"))
	ctx := context.Background()

	_, err := f.orchestrator.Commit(ctx, &models.CommitBookingRequest{
		BookingPeriods:    []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
		CommonUserDetails: guestDetails("a@example.com"),
		TotalPrice:        totalPrice(500),
	})
	require.NoError(t, err)
	require.Len(t, f.notifier.confirmed, 1)
	event := f.notifier.confirmed[0]

	svc := NewCancellationService(f.bookings, f.availability, true, testLogger())

	_, err = svc.Cancel(ctx, CancellationRequest{
		DocumentID:      "booking-doc",
		Body:            cancellationBody(t, map[string]string{"correlationId": event.CorrelationID}),
		CancellationKey: "wrong-key",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Len(t, f.rooms.periods("room-1"), 1)

	result, err := svc.Cancel(ctx, CancellationRequest{
		DocumentID:      "booking-doc",
		Body:            cancellationBody(t, map[string]string{"correlationId": event.CorrelationID}),
		CancellationKey: event.CancellationKey,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "room-1", result.RoomID)
	assert.Equal(t, 1, result.PeriodsRemoved)
	assert.True(t, result.BookingCanceled)

	assert.Empty(t, f.rooms.periods("room-1"))
	assert.Eventually(t, func() bool {
		mirrored, err := f.mirror.Periods(ctx, "room-1")
		return err == nil && len(mirrored) == 0
	}, time.Second, 10*time.Millisecond)

	booking, err := f.bookings.GetByCorrelationID(ctx, event.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, booking.Status)

	// the room can be booked again
	_, err = f.orchestrator.CheckEligibility(ctx, &models.EligibilityRequest{
		BookingPeriods: []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
	})
	assert.NoError(t, err)
}

func TestCancel_LeavesOtherOwners(t *testing.T) {
	room := testRoom("room-1")
	room.BookedPeriods = models.PeriodClaims{
		{Key: models.NewPeriodClaimKey("keep", "a"), Semester: models.SemesterSecond, Year: fixtureYear},
		{Key: models.NewPeriodClaimKey("drop", "a"), Semester: models.SemesterFirst, Year: fixtureYear},
		{Key: models.NewPeriodClaimKey("drop", "b"), Semester: models.SemesterJuly, Year: fixtureYear},
	}
	f := newBookingFixture(t, room)
	svc := NewCancellationService(f.bookings, f.availability, false, testLogger())

	result, err := svc.Cancel(context.Background(), CancellationRequest{
		Body: cancellationBody(t, map[string]string{"_id": "doc-1", "correlationId": "drop", "roomId": "room-1"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PeriodsRemoved)
	assert.False(t, result.BookingCanceled)

	remaining := f.rooms.periods("room-1")
	require.Len(t, remaining, 1)
	assert.True(t, remaining[0].OwnedBy("keep"))
}

func TestCancel_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     CancellationRequest
		wantErr bool
		message string
	}{
		{
			name:    "draft document",
			req:     CancellationRequest{DocumentID: "drafts.abc", Body: json.RawMessage(`{"correlationId":"x"}`)},
			message: "draft document ignored",
		},
		{
			name:    "missing correlation id",
			req:     CancellationRequest{DocumentID: "abc", Body: json.RawMessage(`{"roomId":"room-1"}`)},
			wantErr: true,
		},
		{
			name:    "unknown booking without room",
			req:     CancellationRequest{DocumentID: "abc", Body: json.RawMessage(`{"correlationId":"ghost"}`)},
			wantErr: true,
		},
		{
			name:    "malformed body",
			req:     CancellationRequest{DocumentID: "abc", Body: json.RawMessage(`{`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBookingFixture(t, testRoom("room-1"))
			svc := NewCancellationService(f.bookings, f.availability, false, testLogger())

			result, err := svc.Cancel(context.Background(), tt.req)
			if tt.wantErr {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.message, result.Message)
		})
	}
}
