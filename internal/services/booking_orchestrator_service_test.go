package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/utils"
)

// ============================================================================
// ELIGIBILITY
// ============================================================================

func TestCheckEligibility_RecordsHolds(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"))
	ctx := context.Background()

	resp, err := f.orchestrator.CheckEligibility(ctx, &models.EligibilityRequest{
		BookingPeriods: []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
	})
	require.NoError(t, err)
	assert.True(t, resp.Eligible)

	holds, err := f.holds.ListValid(ctx)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, "room-1", holds[0].RoomID)
	assert.Equal(t, models.SemesterFirst, holds[0].Semester)

	// a second shopper asking for an overlapping period is blocked by the hold
	_, err = f.orchestrator.CheckEligibility(ctx, &models.EligibilityRequest{
		BookingPeriods: []models.BookingPeriodInput{period("room-1", models.SemesterFull)},
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.ByRoom, "room-1")
}

func TestCheckEligibility_ExpiredHoldDoesNotBlock(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"))
	ctx := context.Background()
	req := &models.EligibilityRequest{
		BookingPeriods: []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
	}

	_, err := f.orchestrator.CheckEligibility(ctx, req)
	require.NoError(t, err)

	later := fixtureNow.Add(DefaultHoldTTL + 1)
	f.holds.now = func() time.Time { return later }

	_, err = f.orchestrator.CheckEligibility(ctx, req)
	assert.NoError(t, err)
}

func TestCheckEligibility_Rejections(t *testing.T) {
	booked := testRoom("booked")
	booked.BookedPeriods = models.PeriodClaims{
		{Key: "other__a", Semester: models.SemesterFull, Year: fixtureYear},
	}
	restricted := testRoom("restricted")
	restricted.AvailableSemesters = models.AvailableSemesters{
		{Year: fixtureYear, Semesters: []models.Semester{models.SemesterJuly}},
	}

	tests := []struct {
		name    string
		periods []models.BookingPeriodInput
		check   func(t *testing.T, err error)
	}{
		{
			name:    "persisted full year blocks a semester",
			periods: []models.BookingPeriodInput{period("booked", models.SemesterSecond)},
			check: func(t *testing.T, err error) {
				var conflict *ConflictError
				require.ErrorAs(t, err, &conflict)
				assert.NotEmpty(t, conflict.Messages())
			},
		},
		{
			name: "malformed year",
			periods: []models.BookingPeriodInput{
				{RoomID: "booked", Semester: models.SemesterFirst, Year: "2025-2026"},
			},
			check: func(t *testing.T, err error) {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
			},
		},
		{
			name: "deadline passed",
			periods: []models.BookingPeriodInput{
				{RoomID: "booked", Semester: models.SemesterFirst, Year: "2024/2025"},
			},
			check: func(t *testing.T, err error) {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, verr.Error(), "deadline")
			},
		},
		{
			name:    "unknown room",
			periods: []models.BookingPeriodInput{period("missing", models.SemesterFirst)},
			check: func(t *testing.T, err error) {
				var nf *NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, "missing", nf.ID)
			},
		},
		{
			name:    "label not offered",
			periods: []models.BookingPeriodInput{period("restricted", models.SemesterFirst)},
			check: func(t *testing.T, err error) {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, verr.Error(), "does not offer")
			},
		},
		{
			name: "duplicate label in one request",
			periods: []models.BookingPeriodInput{
				period("restricted", models.SemesterJuly),
				period("restricted", models.SemesterJuly),
			},
			check: func(t *testing.T, err error) {
				var conflict *ConflictError
				require.ErrorAs(t, err, &conflict)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBookingFixture(t, booked, restricted)
			_, err := f.orchestrator.CheckEligibility(context.Background(), &models.EligibilityRequest{BookingPeriods: tt.periods})
			tt.check(t, err)

			holds, _ := f.holds.ListValid(context.Background())
			assert.Empty(t, holds, "a rejected batch must not leave holds")
		})
	}
}

// ============================================================================
// COMMIT
// ============================================================================

func TestCommit_PayLater(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"))
	ctx := context.Background()

	resp, err := f.orchestrator.Commit(ctx, &models.CommitBookingRequest{
		BookingPeriods:    []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
		CommonUserDetails: guestDetails("Student@Example.com "),
		TotalPrice:        totalPrice(500),
	})
	require.NoError(t, err)
	require.Len(t, resp.BookingIDs, 1)
	assert.Equal(t, resp.BookingIDs[0], resp.BookingID)

	bookings := f.bookings.all()
	require.Len(t, bookings, 1)
	b := bookings[0]
	assert.Equal(t, models.BookingStatusPending, b.Status)
	assert.Equal(t, models.PaymentMethodPayLater, b.PaymentMethod)
	assert.Equal(t, 500.0, b.Price)
	assert.False(t, b.DepositPaid)

	// the period lands in both stores under the booking's correlation id
	source := f.rooms.periods("room-1")
	require.Len(t, source, 1)
	assert.True(t, source[0].OwnedBy(b.CorrelationID))

	mirrored, err := f.mirror.Periods(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, mirrored, 1)
	assert.Equal(t, source[0].Key, mirrored[0].Key)

	require.Len(t, f.notifier.confirmed, 1)
	event := f.notifier.confirmed[0]
	assert.Equal(t, "student@example.com", event.GuestEmail)
	assert.True(t, utils.CheckCancellationKey(b.CancellationKeyHash, event.CancellationKey))
}

func TestCommit_ManualPaid(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"), testRoom("room-2"))

	_, err := f.orchestrator.Commit(context.Background(), &models.CommitBookingRequest{
		BookingPeriods: []models.BookingPeriodInput{
			period("room-1", models.SemesterJuly),
			period("room-2", models.SemesterSecond),
		},
		CommonUserDetails: guestDetails("a@example.com"),
		TotalPrice:        totalPrice(800),
		PaymentMethod:     models.PaymentMethodManual,
		PaymentStatus:     "Paid",
	})
	require.NoError(t, err)

	for _, b := range f.bookings.all() {
		switch b.RoomID {
		case "room-1":
			assert.True(t, b.SummerPaid)
			assert.Equal(t, models.BookingStatusCompleted, b.Status)
			assert.Equal(t, 300.0, b.Price)
		case "room-2":
			assert.True(t, b.DepositPaid)
			assert.Equal(t, models.BookingStatusConfirmed, b.Status)
		}
	}
}

func TestCommit_ConflictWritesNothing(t *testing.T) {
	taken := testRoom("taken")
	taken.BookedPeriods = models.PeriodClaims{
		{Key: "earlier__x", Semester: models.SemesterBoth, Year: fixtureYear},
	}
	f := newBookingFixture(t, testRoom("free"), taken)

	_, err := f.orchestrator.Commit(context.Background(), &models.CommitBookingRequest{
		BookingPeriods: []models.BookingPeriodInput{
			period("free", models.SemesterFirst),
			period("taken", models.SemesterFirst),
		},
		CommonUserDetails: guestDetails("a@example.com"),
		TotalPrice:        totalPrice(1000),
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.NotContains(t, conflict.ByRoom, "free")

	assert.Empty(t, f.bookings.all())
	assert.Empty(t, f.rooms.periods("free"))
	assert.Empty(t, f.notifier.confirmed)
}

func twoRoomCommit() *models.CommitBookingRequest {
	return &models.CommitBookingRequest{
		BookingPeriods: []models.BookingPeriodInput{
			period("room-1", models.SemesterFirst),
			period("room-2", models.SemesterSecond),
		},
		CommonUserDetails: guestDetails("a@example.com"),
		TotalPrice:        totalPrice(1000),
	}
}

func TestCommit_SourceFailureLeavesNoBooking(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"), testRoom("room-2"))
	f.rooms.appendErr = errors.New("source down")
	f.rooms.failRoom = "room-2"
	ctx := context.Background()

	_, err := f.orchestrator.Commit(ctx, twoRoomCommit())
	require.ErrorContains(t, err, "source down")

	assert.Empty(t, f.bookings.all())
	assert.Empty(t, f.notifier.confirmed)
	for _, roomID := range []string{"room-1", "room-2"} {
		assert.Empty(t, f.rooms.periods(roomID), roomID)
		mirrored, err := f.mirror.Periods(ctx, roomID)
		require.NoError(t, err)
		assert.Empty(t, mirrored, roomID)
	}

	// a retry after the source recovers books exactly once
	f.rooms.appendErr = nil
	_, err = f.orchestrator.Commit(ctx, twoRoomCommit())
	require.NoError(t, err)
	assert.Len(t, f.bookings.all(), 2)
	assert.Len(t, f.rooms.periods("room-1"), 1)
}

func TestCommit_BookingFailureReleasesPeriods(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"), testRoom("room-2"))
	f.bookings.createErr = errors.New("insert failed")
	f.bookings.createOK = 1
	ctx := context.Background()

	_, err := f.orchestrator.Commit(ctx, twoRoomCommit())
	require.ErrorContains(t, err, "insert failed")

	bookings := f.bookings.all()
	require.Len(t, bookings, 1)
	assert.Equal(t, models.BookingStatusCancelled, bookings[0].Status)
	assert.Empty(t, f.notifier.confirmed)
	for _, roomID := range []string{"room-1", "room-2"} {
		assert.Empty(t, f.rooms.periods(roomID), roomID)
		mirrored, err := f.mirror.Periods(ctx, roomID)
		require.NoError(t, err)
		assert.Empty(t, mirrored, roomID)
	}
}

func TestCommit_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  *models.CommitBookingRequest
		want string
	}{
		{
			name: "missing total price",
			req: &models.CommitBookingRequest{
				BookingPeriods:    []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
				CommonUserDetails: guestDetails("a@example.com"),
			},
			want: "totalPrice",
		},
		{
			name: "per-period details missing",
			req: &models.CommitBookingRequest{
				BookingPeriods: []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
				TotalPrice:     totalPrice(500),
			},
			want: "userDetails",
		},
		{
			name: "rail method on commit",
			req: &models.CommitBookingRequest{
				BookingPeriods:    []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
				CommonUserDetails: guestDetails("a@example.com"),
				TotalPrice:        totalPrice(500),
				PaymentMethod:     models.PaymentMethodCard,
			},
			want: "payment session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBookingFixture(t, testRoom("room-1"))
			_, err := f.orchestrator.Commit(context.Background(), tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

func TestCommit_PerPeriodGuestsShareByEmail(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"), testRoom("room-2"))

	first := guestDetails("same@example.com")
	second := guestDetails("SAME@example.com")
	req := &models.CommitBookingRequest{
		BookingPeriods: []models.BookingPeriodInput{
			period("room-1", models.SemesterFirst),
			period("room-2", models.SemesterFirst),
		},
		TotalPrice: totalPrice(1000),
	}
	req.BookingPeriods[0].UserDetails = first
	req.BookingPeriods[1].UserDetails = second

	_, err := f.orchestrator.Commit(context.Background(), req)
	require.NoError(t, err)

	bookings := f.bookings.all()
	require.Len(t, bookings, 2)
	assert.Equal(t, bookings[0].GuestID, bookings[1].GuestID)
	assert.Len(t, f.guests.byEmail, 1)
}

func TestCommit_MirrorFailureIsNotFatal(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"))
	f.availability = NewAvailabilityService(f.rooms, failingMirror{}, testLogger())
	f.orchestrator.availability = f.availability

	_, err := f.orchestrator.Commit(context.Background(), &models.CommitBookingRequest{
		BookingPeriods:    []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
		CommonUserDetails: guestDetails("a@example.com"),
		TotalPrice:        totalPrice(500),
	})
	require.NoError(t, err)
	assert.Len(t, f.rooms.periods("room-1"), 1)
}

// ============================================================================
// PAYMENT SESSION
// ============================================================================

func TestStartPayment_RecordsCorrelationOnly(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"))
	rail := &fakeRail{rail: models.RailRazorpay}
	f.orchestrator.RegisterRail(models.PaymentMethodCard, rail)

	resp, err := f.orchestrator.StartPayment(context.Background(), &models.PaymentSessionRequest{
		CommitBookingRequest: models.CommitBookingRequest{
			BookingPeriods:    []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
			CommonUserDetails: guestDetails("a@example.com"),
			TotalPrice:        totalPrice(500),
			PaymentMethod:     models.PaymentMethodCard,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RailRazorpay, resp.Rail)
	require.Len(t, resp.Sessions, 1)
	require.Len(t, rail.intents, 1)

	correlationID := resp.Sessions[0].CorrelationID
	rec, err := f.correlations.GetByCorrelationID(context.Background(), correlationID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, resp.Sessions[0].ExternalID, rec.ExternalID)
	assert.Equal(t, "a@example.com", rec.GuestEmail)
	assert.Equal(t, fixtureNow.Add(24*time.Hour), rec.ExpiresAt)

	assert.Empty(t, f.bookings.all())
	assert.Empty(t, f.rooms.periods("room-1"))
}

func TestStartPayment_UnknownMethod(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"))

	_, err := f.orchestrator.StartPayment(context.Background(), &models.PaymentSessionRequest{
		CommitBookingRequest: models.CommitBookingRequest{
			BookingPeriods:    []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
			CommonUserDetails: guestDetails("a@example.com"),
			TotalPrice:        totalPrice(500),
			PaymentMethod:     models.PaymentMethodAlternate,
		},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
