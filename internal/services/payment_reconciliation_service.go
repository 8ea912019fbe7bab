package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/database"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/periods"
	"github.com/studentrooms/booking-backend/internal/utils"
)

// PaymentReconciliationService applies verified payment events to bookings.
// Every operation tolerates redelivery: the booking insert is unique per
// correlation id, and paid months are appended only when absent.
type PaymentReconciliationService struct {
	rooms        RoomSource
	bookings     BookingStore
	correlations CorrelationStore
	availability *AvailabilityService
	notifier     Notifier
	logger       *logrus.Logger
}

// NewPaymentReconciliationService creates a new PaymentReconciliationService
func NewPaymentReconciliationService(
	rooms RoomSource,
	bookings BookingStore,
	correlations CorrelationStore,
	availability *AvailabilityService,
	notifier Notifier,
	logger *logrus.Logger,
) *PaymentReconciliationService {
	return &PaymentReconciliationService{
		rooms:        rooms,
		bookings:     bookings,
		correlations: correlations,
		availability: availability,
		notifier:     notifier,
		logger:       logger,
	}
}

// BookingFor returns the existing booking for a payment without materializing one
func (s *PaymentReconciliationService) BookingFor(ctx context.Context, ref PaymentRef) (*models.Booking, error) {
	if ref.CorrelationID != "" {
		booking, err := s.bookings.GetByCorrelationID(ctx, ref.CorrelationID)
		if err != nil || booking != nil {
			return booking, err
		}
	}
	if ref.ExternalID != "" {
		return s.bookings.GetByPaymentReference(ctx, ref.ExternalID)
	}
	return nil, nil
}

// correlationFor loads the correlation record, or nil when it was never
// written or has been cleaned up
func (s *PaymentReconciliationService) correlationFor(ctx context.Context, ref PaymentRef) (*models.PaymentCorrelation, error) {
	if ref.CorrelationID != "" {
		rec, err := s.correlations.GetByCorrelationID(ctx, ref.CorrelationID)
		if err != nil || rec != nil {
			return rec, err
		}
	}
	if ref.ExternalID != "" {
		return s.correlations.GetByExternalID(ctx, ref.Rail, ref.ExternalID)
	}
	return nil, nil
}

// resolve returns the booking for ref, creating it from the correlation record
// on the first confirmed payment. Both results nil means nothing is known
// about the payment.
func (s *PaymentReconciliationService) resolve(ctx context.Context, ref PaymentRef) (*models.Booking, error) {
	booking, err := s.BookingFor(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to look up booking: %w", err)
	}
	if booking != nil {
		return booking, s.ensurePeriod(ctx, booking)
	}

	rec, err := s.correlationFor(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment correlation: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	return s.materialize(ctx, rec)
}

// materialize creates the booking, appends its period to both stores, sends the
// confirmation and drops the correlation record
func (s *PaymentReconciliationService) materialize(ctx context.Context, rec *models.PaymentCorrelation) (*models.Booking, error) {
	guestID, ok := rec.PrimaryGuestID()
	if !ok {
		return nil, fmt.Errorf("correlation %s has no guest", rec.CorrelationID)
	}

	room, err := s.rooms.GetByID(ctx, rec.RoomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	if room == nil {
		return nil, &NotFoundError{Kind: "room", ID: rec.RoomID}
	}

	key, hash, err := utils.GenerateCancellationKey()
	if err != nil {
		return nil, err
	}

	method := models.PaymentMethodCard
	if rec.Rail == models.RailOmise {
		method = models.PaymentMethodAlternate
	}
	reference := rec.ExternalID

	booking := &models.Booking{
		CorrelationID:       rec.CorrelationID,
		GuestID:             guestID,
		RoomID:              rec.RoomID,
		RoomTitle:           room.Title,
		Semester:            rec.Semester,
		Year:                rec.Year,
		Services:            rec.Services,
		Price:               rec.Price,
		Status:              models.BookingStatusPending,
		PaymentMethod:       method,
		PaymentReference:    &reference,
		CancellationKeyHash: hash,
	}

	err = s.bookings.CreateForCorrelation(ctx, booking)
	if errors.Is(err, database.ErrBookingExists) {
		// a concurrent delivery won the insert
		existing, getErr := s.bookings.GetByCorrelationID(ctx, rec.CorrelationID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to load existing booking: %w", getErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("booking for %s reported as existing but not found", rec.CorrelationID)
		}
		return existing, s.ensurePeriod(ctx, existing)
	}
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"correlation_id": booking.CorrelationID,
		"room_id":        booking.RoomID,
	})
	log.Info("Booking materialized from payment")

	if err := s.appendPeriod(ctx, booking); err != nil {
		return nil, err
	}

	s.notifier.BookingConfirmed(ctx, &models.BookingConfirmedEvent{
		BookingID:       booking.ID,
		CorrelationID:   booking.CorrelationID,
		GuestEmail:      rec.GuestEmail,
		GuestName:       rec.GuestName,
		RoomID:          booking.RoomID,
		RoomTitle:       booking.RoomTitle,
		Semester:        booking.Semester,
		Year:            booking.Year,
		Price:           booking.Price,
		Status:          booking.Status,
		CancellationKey: key,
		ConfirmedAt:     time.Now().UTC().Format(time.RFC3339),
	})

	if err := s.correlations.Delete(ctx, rec.CorrelationID); err != nil {
		log.WithError(err).Warn("Failed to delete payment correlation; sweep will remove it")
	}

	return booking, nil
}

// ensurePeriod re-appends the booking's period when an earlier delivery
// created the booking but failed before the room write
func (s *PaymentReconciliationService) ensurePeriod(ctx context.Context, booking *models.Booking) error {
	if booking.Status == models.BookingStatusCancelled {
		return nil
	}
	room, err := s.rooms.GetByID(ctx, booking.RoomID)
	if err != nil {
		return fmt.Errorf("failed to load room: %w", err)
	}
	if room == nil {
		return &NotFoundError{Kind: "room", ID: booking.RoomID}
	}
	for _, claim := range room.BookedPeriods {
		if claim.OwnedBy(booking.CorrelationID) {
			return nil
		}
	}
	return s.appendPeriod(ctx, booking)
}

func (s *PaymentReconciliationService) appendPeriod(ctx context.Context, booking *models.Booking) error {
	suffix, err := utils.ShortID()
	if err != nil {
		return err
	}
	claim := models.PeriodClaim{
		Key:      models.NewPeriodClaimKey(booking.CorrelationID, suffix),
		Semester: booking.Semester,
		Year:     booking.Year,
		Services: booking.Services,
	}
	return s.availability.Append(ctx, booking.RoomID, models.PeriodClaims{claim})
}

// ConfirmInitialPayment handles the first successful payment: a summer month is
// paid in full and completed, a semester has its deposit paid and is confirmed
func (s *PaymentReconciliationService) ConfirmInitialPayment(ctx context.Context, ref PaymentRef) (models.PaymentAuditOutcome, error) {
	booking, err := s.resolve(ctx, ref)
	if err != nil {
		return models.AuditOutcomeFailed, err
	}
	if booking == nil {
		s.unknownPayment(ref)
		return models.AuditOutcomeIgnored, nil
	}

	if booking.Semester.IsSummerMonth() {
		err = s.bookings.MarkSummerPaid(ctx, booking.ID)
	} else {
		err = s.bookings.MarkDepositPaid(ctx, booking.ID)
	}
	if err != nil {
		return models.AuditOutcomeFailed, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"semester":   booking.Semester,
	}).Info("Initial payment recorded")
	return models.AuditOutcomeProcessed, nil
}

// RecordDeposit marks a semester booking's deposit paid
func (s *PaymentReconciliationService) RecordDeposit(ctx context.Context, ref PaymentRef) (models.PaymentAuditOutcome, error) {
	booking, err := s.resolve(ctx, ref)
	if err != nil {
		return models.AuditOutcomeFailed, err
	}
	if booking == nil {
		s.unknownPayment(ref)
		return models.AuditOutcomeIgnored, nil
	}
	if err := s.bookings.MarkDepositPaid(ctx, booking.ID); err != nil {
		return models.AuditOutcomeFailed, err
	}
	return models.AuditOutcomeProcessed, nil
}

// RecordInstallment appends the month an invoice settles. The billing period
// start is shifted by lag before its month is taken; a month outside the
// semester's schedule is logged and not recorded. An installment for a booking
// whose deposit is not yet recorded returns ErrDepositPending.
func (s *PaymentReconciliationService) RecordInstallment(ctx context.Context, ref PaymentRef, periodStart time.Time, lag time.Duration) (models.PaymentAuditOutcome, error) {
	booking, err := s.resolve(ctx, ref)
	if err != nil {
		return models.AuditOutcomeFailed, err
	}
	if booking == nil {
		s.unknownPayment(ref)
		return models.AuditOutcomeIgnored, nil
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"semester":   booking.Semester,
	})

	if booking.Semester.IsSummerMonth() {
		log.Warn("Installment for a summer booking ignored")
		return models.AuditOutcomeIgnored, nil
	}
	if !booking.DepositPaid {
		log.Info("Installment arrived before the deposit; deferred")
		return models.AuditOutcomeDeferred, ErrDepositPending
	}

	month, ok := periods.BillingMonth(booking.Semester, periodStart, lag)
	if !ok {
		log.WithField("month", month).Warn("Invoice month outside the semester schedule; not recorded")
		return models.AuditOutcomeOutOfPeriod, nil
	}

	appended, err := s.bookings.AppendPaidMonth(ctx, booking.ID, month)
	if err != nil {
		return models.AuditOutcomeFailed, err
	}
	if !appended {
		log.WithField("month", month).Info("Month already recorded")
		return models.AuditOutcomeIgnored, nil
	}

	log.WithField("month", month).Info("Paid month recorded")
	return models.AuditOutcomeProcessed, nil
}

// RecordFailure notifies the guest that a payment was denied. No booking is
// created or changed.
func (s *PaymentReconciliationService) RecordFailure(ctx context.Context, ref PaymentRef, reason, fallbackEmail string) (models.PaymentAuditOutcome, error) {
	notice := PaymentFailureNotice{CorrelationID: ref.CorrelationID, Reason: reason, GuestEmail: fallbackEmail}

	rec, err := s.correlationFor(ctx, ref)
	if err != nil {
		return models.AuditOutcomeFailed, fmt.Errorf("failed to look up payment correlation: %w", err)
	}
	if rec != nil {
		notice.CorrelationID = rec.CorrelationID
		notice.GuestEmail = rec.GuestEmail
		notice.GuestName = rec.GuestName
		notice.RoomID = rec.RoomID
		notice.Semester = rec.Semester
		notice.Year = rec.Year
	} else if booking, err := s.BookingFor(ctx, ref); err == nil && booking != nil {
		notice.CorrelationID = booking.CorrelationID
		notice.RoomID = booking.RoomID
		notice.Semester = booking.Semester
		notice.Year = booking.Year
	}

	if notice.GuestEmail == "" {
		s.unknownPayment(ref)
		return models.AuditOutcomeIgnored, nil
	}

	s.logger.WithFields(logrus.Fields{
		"correlation_id": notice.CorrelationID,
		"reason":         reason,
	}).Warn("Payment failed")

	s.notifier.PaymentFailed(ctx, notice)
	return models.AuditOutcomeProcessed, nil
}

func (s *PaymentReconciliationService) unknownPayment(ref PaymentRef) {
	s.logger.WithFields(logrus.Fields{
		"rail":           ref.Rail,
		"correlation_id": ref.CorrelationID,
		"external_id":    ref.ExternalID,
	}).Info("No booking or correlation record for payment; acknowledged")
}
