package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/periods"
	"github.com/studentrooms/booking-backend/internal/utils"
)

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	CorrelationTTL time.Duration // how long a payment correlation record is kept (default 24h)
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{CorrelationTTL: 24 * time.Hour}
}

// BookingOrchestratorService drives a booking attempt through
// DRAFT -> VALIDATED -> USER_RESOLVED -> PRICED -> PAYMENT_INITIATED.
// Deferred payment methods create pending bookings immediately; the card and
// alternate rails only record a correlation and leave confirmation to the
// payment webhook.
type BookingOrchestratorService struct {
	rooms        RoomSource
	bookings     BookingStore
	correlations CorrelationStore
	guests       *GuestService
	holds        *HoldService
	availability *AvailabilityService
	notifier     Notifier
	rails        map[models.PaymentMethod]PaymentRailAdapter
	config       BookingOrchestratorConfig
	logger       *logrus.Logger
	now          func() time.Time
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	rooms RoomSource,
	bookings BookingStore,
	correlations CorrelationStore,
	guests *GuestService,
	holds *HoldService,
	availability *AvailabilityService,
	notifier Notifier,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	if config.CorrelationTTL <= 0 {
		config.CorrelationTTL = DefaultOrchestratorConfig().CorrelationTTL
	}
	return &BookingOrchestratorService{
		rooms:        rooms,
		bookings:     bookings,
		correlations: correlations,
		guests:       guests,
		holds:        holds,
		availability: availability,
		notifier:     notifier,
		rails:        make(map[models.PaymentMethod]PaymentRailAdapter),
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// RegisterRail attaches the adapter that serves a payment method
func (s *BookingOrchestratorService) RegisterRail(method models.PaymentMethod, adapter PaymentRailAdapter) {
	s.rails[method] = adapter
}

// ============================================================================
// ELIGIBILITY
// ============================================================================

// CheckEligibility validates the requested periods and, when they fit, records
// provisional holds so concurrent shoppers see them
func (s *BookingOrchestratorService) CheckEligibility(ctx context.Context, req *models.EligibilityRequest) (*models.EligibilityResponse, error) {
	if len(req.BookingPeriods) == 0 {
		return nil, NewValidationError("bookingPeriods must not be empty")
	}
	if err := s.validatePeriods(req.BookingPeriods); err != nil {
		return nil, err
	}

	rooms, err := s.loadRooms(ctx, req.BookingPeriods)
	if err != nil {
		return nil, err
	}
	if err := checkOffers(req.BookingPeriods, rooms); err != nil {
		return nil, err
	}

	batch := make([]models.HoldRequest, len(req.BookingPeriods))
	for i, p := range req.BookingPeriods {
		batch[i] = models.HoldRequest{RoomID: p.RoomID, Semester: p.Semester, Year: p.Year}
	}
	persisted := make(map[string]models.PeriodClaims, len(rooms))
	for id, room := range rooms {
		persisted[id] = room.BookedPeriods
	}

	if _, err := s.holds.Reserve(ctx, batch, persisted); err != nil {
		return nil, err
	}

	return &models.EligibilityResponse{Eligible: true}, nil
}

// ============================================================================
// COMMIT (deferred payment)
// ============================================================================

// pricedPeriod is one request period after guest resolution and pricing
type pricedPeriod struct {
	input models.BookingPeriodInput
	room  *models.Room
	guest *models.Guest
	price float64
}

// committedBooking tracks one booking through a deferred-payment commit
type committedBooking struct {
	booking *models.Booking
	key     string
	guest   *models.Guest
	saved   bool
}

// undoCommit releases the claims written for rooms and cancels any booking
// already saved. Failures are logged; the commit error is what the caller sees.
func (s *BookingOrchestratorService) undoCommit(ctx context.Context, results []*committedBooking, rooms []string) {
	ctx = context.WithoutCancel(ctx)
	touched := make(map[string]bool, len(rooms))
	for _, id := range rooms {
		touched[id] = true
	}

	for _, r := range results {
		log := s.logger.WithFields(logrus.Fields{
			"room_id":        r.booking.RoomID,
			"correlation_id": r.booking.CorrelationID,
		})
		if touched[r.booking.RoomID] {
			if _, err := s.availability.RemoveByOwner(ctx, r.booking.RoomID, r.booking.CorrelationID); err != nil {
				log.WithError(err).Error("Failed to release periods of an aborted commit")
			}
		}
		if r.saved {
			if _, err := s.bookings.CancelByCorrelationID(ctx, r.booking.CorrelationID); err != nil {
				log.WithError(err).Error("Failed to cancel booking of an aborted commit")
			}
		}
	}
}

// Commit creates one pending booking per period for the pay-later and manual
// methods and writes the periods to both stores
func (s *BookingOrchestratorService) Commit(ctx context.Context, req *models.CommitBookingRequest) (*models.CommitBookingResponse, error) {
	method := req.PaymentMethod
	if method == "" {
		method = models.PaymentMethodPayLater
	}
	if !method.IsDeferred() {
		return nil, NewValidationError(fmt.Sprintf("paymentMethod %q requires a payment session", method))
	}

	priced, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	settled := method == models.PaymentMethodManual && strings.EqualFold(req.PaymentStatus, "paid")

	results := make([]*committedBooking, 0, len(priced))
	claimsByRoom := make(map[string]models.PeriodClaims)

	for _, p := range priced {
		key, hash, err := utils.GenerateCancellationKey()
		if err != nil {
			return nil, err
		}

		booking := &models.Booking{
			CorrelationID:       uuid.NewString(),
			GuestID:             p.guest.ID,
			RoomID:              p.room.ID,
			RoomTitle:           p.room.Title,
			Semester:            p.input.Semester,
			Year:                p.input.Year,
			Services:            p.input.Services,
			Price:               p.price,
			Status:              models.BookingStatusPending,
			PaymentMethod:       method,
			CancellationKeyHash: hash,
		}
		if settled {
			if booking.Semester.IsSummerMonth() {
				booking.SummerPaid = true
				booking.Status = models.BookingStatusCompleted
			} else {
				booking.DepositPaid = true
				booking.Status = models.BookingStatusConfirmed
			}
		}

		suffix, err := utils.ShortID()
		if err != nil {
			return nil, err
		}
		claimsByRoom[booking.RoomID] = append(claimsByRoom[booking.RoomID], models.PeriodClaim{
			Key:      models.NewPeriodClaimKey(booking.CorrelationID, suffix),
			Semester: booking.Semester,
			Year:     booking.Year,
			Services: booking.Services,
		})
		results = append(results, &committedBooking{booking: booking, key: key, guest: p.guest})
	}

	roomIDs := make([]string, 0, len(claimsByRoom))
	for id := range claimsByRoom {
		roomIDs = append(roomIDs, id)
	}
	sort.Strings(roomIDs)

	// Periods go in before any booking row exists, so a failed store write
	// never leaves a pending booking without its claim.
	for i, roomID := range roomIDs {
		if err := s.availability.Append(ctx, roomID, claimsByRoom[roomID]); err != nil {
			s.undoCommit(ctx, results, roomIDs[:i+1])
			return nil, err
		}
	}
	for _, r := range results {
		if err := s.bookings.Create(ctx, r.booking); err != nil {
			s.undoCommit(ctx, results, roomIDs)
			return nil, fmt.Errorf("failed to create booking: %w", err)
		}
		r.saved = true
	}

	resp := &models.CommitBookingResponse{BookingIDs: make([]uuid.UUID, 0, len(results))}
	for _, r := range results {
		resp.BookingIDs = append(resp.BookingIDs, r.booking.ID)
		s.notifier.BookingConfirmed(ctx, &models.BookingConfirmedEvent{
			BookingID:       r.booking.ID,
			CorrelationID:   r.booking.CorrelationID,
			GuestEmail:      r.guest.Email,
			GuestName:       r.guest.Name,
			RoomID:          r.booking.RoomID,
			RoomTitle:       r.booking.RoomTitle,
			Semester:        r.booking.Semester,
			Year:            r.booking.Year,
			Price:           r.booking.Price,
			Status:          r.booking.Status,
			CancellationKey: r.key,
			ConfirmedAt:     s.now().UTC().Format(time.RFC3339),
		})
	}
	resp.BookingID = resp.BookingIDs[0]

	s.logger.WithFields(logrus.Fields{
		"bookings":       len(resp.BookingIDs),
		"payment_method": method,
	}).Info("Bookings committed")

	return resp, nil
}

// ============================================================================
// PAYMENT SESSION (card / alternate rails)
// ============================================================================

// StartPayment prices the periods, opens one external payment object per
// period on the selected rail and records a correlation for each. No booking
// exists until the rail confirms payment.
func (s *BookingOrchestratorService) StartPayment(ctx context.Context, req *models.PaymentSessionRequest) (*models.PaymentSessionResponse, error) {
	adapter, ok := s.rails[req.PaymentMethod]
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("paymentMethod %q does not open a payment session", req.PaymentMethod))
	}

	priced, err := s.prepare(ctx, &req.CommitBookingRequest)
	if err != nil {
		return nil, err
	}

	resp := &models.PaymentSessionResponse{Rail: adapter.Rail(), Sessions: make([]models.PaymentSession, 0, len(priced))}
	for _, p := range priced {
		correlationID := uuid.NewString()
		session, err := adapter.OpenSession(ctx, &PaymentIntent{
			CorrelationID: correlationID,
			Room:          p.room,
			Semester:      p.input.Semester,
			Year:          p.input.Year,
			Services:      p.input.Services,
			Price:         p.price,
			Guest:         p.guest,
			CardToken:     req.CardToken,
			SourceID:      req.SourceID,
		})
		if err != nil {
			return nil, err
		}

		now := s.now()
		rec := &models.PaymentCorrelation{
			Rail:          adapter.Rail(),
			CorrelationID: correlationID,
			ExternalID:    session.ExternalID,
			Kind:          session.Kind,
			RoomID:        p.room.ID,
			GuestIDs:      models.GuestIDList{p.guest.ID},
			GuestEmail:    p.guest.Email,
			GuestName:     p.guest.Name,
			Semester:      p.input.Semester,
			Year:          p.input.Year,
			Price:         p.price,
			Services:      p.input.Services,
			CreatedAt:     now,
			ExpiresAt:     now.Add(s.config.CorrelationTTL),
		}
		if err := s.correlations.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to record payment correlation: %w", err)
		}

		resp.Sessions = append(resp.Sessions, *session)
	}

	s.logger.WithFields(logrus.Fields{
		"rail":     resp.Rail,
		"sessions": len(resp.Sessions),
	}).Info("Payment sessions opened")

	return resp, nil
}

// ============================================================================
// SHARED STEPS
// ============================================================================

// prepare runs validation, guest resolution, pricing and the conflict check
func (s *BookingOrchestratorService) prepare(ctx context.Context, req *models.CommitBookingRequest) ([]pricedPeriod, error) {
	// DRAFT -> VALIDATED
	var missing []string
	if len(req.BookingPeriods) == 0 {
		missing = append(missing, "bookingPeriods must not be empty")
	}
	if req.TotalPrice == nil {
		missing = append(missing, "totalPrice is required")
	}
	if req.CommonUserDetails == nil {
		for i, p := range req.BookingPeriods {
			if p.UserDetails == nil {
				missing = append(missing, fmt.Sprintf("bookingPeriods[%d].userDetails is required", i))
			}
		}
	}
	if len(missing) > 0 {
		return nil, NewValidationError(missing...)
	}
	if err := s.validatePeriods(req.BookingPeriods); err != nil {
		return nil, err
	}

	// VALIDATED -> USER_RESOLVED
	guests := make(map[string]*models.Guest)
	resolve := func(details *models.GuestDetails) (*models.Guest, error) {
		email := details.NormalizedEmail()
		if g, ok := guests[email]; ok {
			return g, nil
		}
		g, err := s.guests.FindOrCreate(ctx, details)
		if err != nil {
			return nil, err
		}
		guests[email] = g
		return g, nil
	}

	priced := make([]pricedPeriod, len(req.BookingPeriods))
	for i, p := range req.BookingPeriods {
		details := req.CommonUserDetails
		if details == nil {
			details = p.UserDetails
		}
		guest, err := resolve(details)
		if err != nil {
			return nil, err
		}
		priced[i] = pricedPeriod{input: p, guest: guest}
	}

	// USER_RESOLVED -> PRICED
	rooms, err := s.loadRooms(ctx, req.BookingPeriods)
	if err != nil {
		return nil, err
	}
	if err := checkOffers(req.BookingPeriods, rooms); err != nil {
		return nil, err
	}

	var total float64
	for i := range priced {
		room := rooms[priced[i].input.RoomID]
		base, err := periods.Price(room, priced[i].input.Semester)
		if err != nil {
			return nil, NewValidationError(err.Error())
		}
		priced[i].room = room
		priced[i].price = base + priced[i].input.Services.Total()
		total += priced[i].price
	}
	if math.Abs(total-*req.TotalPrice) > 0.01 {
		s.logger.WithFields(logrus.Fields{
			"computed": total,
			"supplied": *req.TotalPrice,
		}).Warn("Supplied total price differs from computed price")
	}

	// PRICED: all-or-nothing conflict check across every room in the request
	byRoom, roomIDs := periods.GroupByRoom(priced, func(p pricedPeriod) string { return p.input.RoomID })
	report := &ConflictError{}
	for _, roomID := range roomIDs {
		claims := append(models.PeriodClaims{}, rooms[roomID].BookedPeriods...)
		for i, p := range byRoom[roomID] {
			claims = append(claims, models.PeriodClaim{
				Key:      models.NewPeriodClaimKey("proposed", fmt.Sprint(i)),
				Semester: p.input.Semester,
				Year:     p.input.Year,
			})
		}
		if conflicts := periods.Validate(claims); len(conflicts) > 0 {
			report.add(roomID, periods.Messages(conflicts)...)
		}
	}
	if !report.empty() {
		return nil, report
	}

	return priced, nil
}

// validatePeriods checks the year format and label of every period before
// any deadline or conflict check runs
func (s *BookingOrchestratorService) validatePeriods(input []models.BookingPeriodInput) error {
	var fields []string
	for i, p := range input {
		if strings.TrimSpace(p.RoomID) == "" {
			fields = append(fields, fmt.Sprintf("bookingPeriods[%d].roomId is required", i))
		}
		if err := periods.ValidateAcademicYear(p.Year); err != nil {
			fields = append(fields, fmt.Sprintf("bookingPeriods[%d].year: %v", i, err))
		}
		if !p.Semester.IsValid() {
			fields = append(fields, fmt.Sprintf("bookingPeriods[%d].semester: unknown period %q", i, p.Semester))
		}
	}
	if len(fields) > 0 {
		return NewValidationError(fields...)
	}

	now := s.now()
	for i, p := range input {
		ok, err := periods.IsBookable(p.Semester, p.Year, now)
		if err != nil {
			return NewValidationError(fmt.Sprintf("bookingPeriods[%d]: %v", i, err))
		}
		if !ok {
			fields = append(fields, fmt.Sprintf("bookingPeriods[%d]: booking deadline for %s %s has passed", i, p.Semester, p.Year))
		}
	}
	if len(fields) > 0 {
		return NewValidationError(fields...)
	}
	return nil
}

func (s *BookingOrchestratorService) loadRooms(ctx context.Context, input []models.BookingPeriodInput) (map[string]*models.Room, error) {
	ids := make([]string, 0, len(input))
	seen := make(map[string]bool)
	for _, p := range input {
		if !seen[p.RoomID] {
			seen[p.RoomID] = true
			ids = append(ids, p.RoomID)
		}
	}

	rooms, err := s.rooms.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}
	for _, id := range ids {
		if rooms[id] == nil {
			return nil, &NotFoundError{Kind: "room", ID: id}
		}
	}
	return rooms, nil
}

func checkOffers(input []models.BookingPeriodInput, rooms map[string]*models.Room) error {
	var fields []string
	for i, p := range input {
		if !rooms[p.RoomID].AvailableSemesters.Offers(p.Year, p.Semester) {
			fields = append(fields, fmt.Sprintf("bookingPeriods[%d]: room %s does not offer %s in %s", i, p.RoomID, p.Semester, p.Year))
		}
	}
	if len(fields) > 0 {
		return NewValidationError(fields...)
	}
	return nil
}
