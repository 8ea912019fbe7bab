package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/database"
	"github.com/studentrooms/booking-backend/internal/mirror"
	"github.com/studentrooms/booking-backend/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newMirror(t *testing.T) *mirror.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mirror.NewStore(rdb)
}

// ============================================================================
// ROOMS
// ============================================================================

type memRooms struct {
	mu        sync.Mutex
	rooms     map[string]*models.Room
	appendErr error
	// failRoom limits appendErr to one room when set
	failRoom string
}

func newMemRooms(rooms ...*models.Room) *memRooms {
	m := &memRooms{rooms: make(map[string]*models.Room)}
	for _, r := range rooms {
		m.rooms[r.ID] = r
	}
	return m
}

func (m *memRooms) copyOf(r *models.Room) *models.Room {
	c := *r
	c.BookedPeriods = append(models.PeriodClaims{}, r.BookedPeriods...)
	return &c
}

func (m *memRooms) GetByID(_ context.Context, id string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, nil
	}
	return m.copyOf(r), nil
}

func (m *memRooms) GetByIDs(_ context.Context, ids []string) (map[string]*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*models.Room)
	for _, id := range ids {
		if r, ok := m.rooms[id]; ok {
			out[id] = m.copyOf(r)
		}
	}
	return out, nil
}

func (m *memRooms) AppendPeriods(_ context.Context, roomID string, claims models.PeriodClaims) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil && (m.failRoom == "" || m.failRoom == roomID) {
		return m.appendErr
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return database.ErrRoomNotFound
	}
	r.BookedPeriods = append(r.BookedPeriods, claims...)
	return nil
}

func (m *memRooms) RemovePeriodsByOwner(_ context.Context, roomID, correlationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return 0, database.ErrRoomNotFound
	}
	kept, removed := r.BookedPeriods.WithoutOwner(correlationID)
	r.BookedPeriods = kept
	return removed, nil
}

func (m *memRooms) UpsertContent(_ context.Context, room *models.Room) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rooms[room.ID]
	if !ok {
		existing = &models.Room{ID: room.ID, BookedPeriods: models.PeriodClaims{}}
		m.rooms[room.ID] = existing
	}
	existing.Title = room.Title
	existing.Location = room.Location
	existing.WinterPrice = room.WinterPrice
	existing.SummerPrice = room.SummerPrice
	existing.AvailableSemesters = room.AvailableSemesters
	return m.copyOf(existing), nil
}

func (m *memRooms) periods(roomID string) models.PeriodClaims {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(models.PeriodClaims{}, m.rooms[roomID].BookedPeriods...)
}

// ============================================================================
// HOLDS
// ============================================================================

type memHolds struct {
	mu    sync.Mutex
	holds []models.ProvisionalHold
	now   func() time.Time
}

func newMemHolds() *memHolds {
	return &memHolds{now: time.Now}
}

func (m *memHolds) ReserveBatch(_ context.Context, batch []models.HoldRequest, ttl time.Duration, guard database.HoldGuard) ([]models.ProvisionalHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	if guard != nil {
		if err := guard(append([]models.ProvisionalHold{}, m.holds...)); err != nil {
			return nil, err
		}
	}

	now := m.now()
	created := make([]models.ProvisionalHold, 0, len(batch))
	for _, req := range batch {
		h := models.ProvisionalHold{
			ID:        uuid.New(),
			RoomID:    req.RoomID,
			Semester:  req.Semester,
			Year:      req.Year,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		m.holds = append(m.holds, h)
		created = append(created, h)
	}
	return created, nil
}

func (m *memHolds) ListValid(context.Context) ([]models.ProvisionalHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	return append([]models.ProvisionalHold{}, m.holds...), nil
}

func (m *memHolds) DeleteExpired(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(), nil
}

func (m *memHolds) sweepLocked() int64 {
	now := m.now()
	kept := m.holds[:0]
	var removed int64
	for _, h := range m.holds {
		if h.ExpiresAt.After(now) {
			kept = append(kept, h)
		} else {
			removed++
		}
	}
	m.holds = kept
	return removed
}

// ============================================================================
// GUESTS
// ============================================================================

type memGuests struct {
	mu      sync.Mutex
	byEmail map[string]*models.Guest
	updates []map[string]interface{}
}

func newMemGuests() *memGuests {
	return &memGuests{byEmail: make(map[string]*models.Guest)}
}

func (m *memGuests) GetByEmail(_ context.Context, email string) (*models.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byEmail[email]
	if !ok {
		return nil, nil
	}
	c := *g
	return &c, nil
}

func (m *memGuests) Create(_ context.Context, guest *models.Guest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if guest.ID == uuid.Nil {
		guest.ID = uuid.New()
	}
	c := *guest
	m.byEmail[guest.Email] = &c
	return nil
}

func (m *memGuests) UpdateFields(_ context.Context, id uuid.UUID, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, fields)
	return nil
}

// ============================================================================
// BOOKINGS
// ============================================================================

type memBookings struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*models.Booking
	// createErr is returned once createOK creates have succeeded
	createErr error
	createOK  int
}

func newMemBookings() *memBookings {
	return &memBookings{bookings: make(map[uuid.UUID]*models.Booking)}
}

func (m *memBookings) Create(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil && len(m.bookings) >= m.createOK {
		return m.createErr
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	c := *b
	m.bookings[b.ID] = &c
	return nil
}

func (m *memBookings) CreateForCorrelation(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	for _, existing := range m.bookings {
		if existing.CorrelationID == b.CorrelationID {
			m.mu.Unlock()
			return database.ErrBookingExists
		}
	}
	m.mu.Unlock()
	return m.Create(ctx, b)
}

func (m *memBookings) find(match func(*models.Booking) bool) *models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if match(b) {
			c := *b
			c.PaidMonths = append([]string{}, b.PaidMonths...)
			return &c
		}
	}
	return nil
}

func (m *memBookings) GetByCorrelationID(_ context.Context, correlationID string) (*models.Booking, error) {
	return m.find(func(b *models.Booking) bool { return b.CorrelationID == correlationID }), nil
}

func (m *memBookings) GetByPaymentReference(_ context.Context, reference string) (*models.Booking, error) {
	return m.find(func(b *models.Booking) bool {
		return b.PaymentReference != nil && *b.PaymentReference == reference
	}), nil
}

func (m *memBookings) update(id uuid.UUID, fn func(*models.Booking)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return errors.New("booking not found")
	}
	fn(b)
	return nil
}

func (m *memBookings) MarkDepositPaid(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(b *models.Booking) {
		b.DepositPaid = true
		b.Status = models.BookingStatusConfirmed
	})
}

func (m *memBookings) MarkSummerPaid(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(b *models.Booking) {
		b.SummerPaid = true
		b.Status = models.BookingStatusCompleted
	})
}

func (m *memBookings) AppendPaidMonth(_ context.Context, id uuid.UUID, month string) (bool, error) {
	appended := false
	err := m.update(id, func(b *models.Booking) {
		for _, existing := range b.PaidMonths {
			if existing == month {
				return
			}
		}
		b.PaidMonths = append(b.PaidMonths, month)
		appended = true
	})
	return appended, err
}

func (m *memBookings) CancelByCorrelationID(_ context.Context, correlationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.CorrelationID == correlationID && b.Status != models.BookingStatusCancelled {
			b.Status = models.BookingStatusCancelled
			return true, nil
		}
	}
	return false, nil
}

func (m *memBookings) all() []*models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		c := *b
		out = append(out, &c)
	}
	return out
}

// ============================================================================
// CORRELATIONS
// ============================================================================

type memCorrelations struct {
	mu   sync.Mutex
	recs map[string]*models.PaymentCorrelation
}

func newMemCorrelations() *memCorrelations {
	return &memCorrelations{recs: make(map[string]*models.PaymentCorrelation)}
}

func (m *memCorrelations) Create(_ context.Context, rec *models.PaymentCorrelation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *rec
	m.recs[rec.CorrelationID] = &c
	return nil
}

func (m *memCorrelations) GetByCorrelationID(_ context.Context, correlationID string) (*models.PaymentCorrelation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[correlationID]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (m *memCorrelations) GetByExternalID(_ context.Context, rail models.PaymentRail, externalID string) (*models.PaymentCorrelation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.Rail == rail && rec.ExternalID == externalID {
			c := *rec
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memCorrelations) Delete(_ context.Context, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, correlationID)
	return nil
}

func (m *memCorrelations) DeleteExpired(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	now := time.Now()
	for id, rec := range m.recs {
		if !rec.ExpiresAt.After(now) {
			delete(m.recs, id)
			removed++
		}
	}
	return removed, nil
}

type failingMirror struct{}

func (failingMirror) AppendPeriods(context.Context, string, models.PeriodClaims) error {
	return errors.New("mirror unavailable")
}

func (failingMirror) RemovePeriodsByOwner(context.Context, string, string) (int, error) {
	return 0, errors.New("mirror unavailable")
}

// ============================================================================
// NOTIFIER / RAILS
// ============================================================================

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []*models.BookingConfirmedEvent
	failures  []PaymentFailureNotice
	alerts    []string
}

func (n *recordingNotifier) BookingConfirmed(_ context.Context, event *models.BookingConfirmedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, event)
}

func (n *recordingNotifier) PaymentFailed(_ context.Context, notice PaymentFailureNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, notice)
}

func (n *recordingNotifier) OperatorAlert(_ context.Context, subject string, _ error, _ map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, subject)
}

type fakeRail struct {
	rail    models.PaymentRail
	intents []*PaymentIntent
	err     error
}

func (f *fakeRail) Rail() models.PaymentRail { return f.rail }

func (f *fakeRail) OpenSession(_ context.Context, intent *PaymentIntent) (*models.PaymentSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.intents = append(f.intents, intent)
	return &models.PaymentSession{
		CorrelationID: intent.CorrelationID,
		ExternalID:    "ext_" + intent.CorrelationID[:8],
		Kind:          models.CorrelationKindOrder,
		Amount:        intent.Price,
	}, nil
}

// ============================================================================
// FIXTURE
// ============================================================================

// bookingFixture wires the booking flow over in-memory stores and a
// miniredis-backed mirror
type bookingFixture struct {
	rooms        *memRooms
	mirror       *mirror.Store
	holds        *memHolds
	guests       *memGuests
	bookings     *memBookings
	correlations *memCorrelations
	notifier     *recordingNotifier
	availability *AvailabilityService
	orchestrator *BookingOrchestratorService
	reconciler   *PaymentReconciliationService
}

var fixtureNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

const fixtureYear = "2025/2026"

func newBookingFixture(t *testing.T, rooms ...*models.Room) *bookingFixture {
	t.Helper()
	logger := testLogger()

	f := &bookingFixture{
		rooms:        newMemRooms(rooms...),
		mirror:       newMirror(t),
		holds:        newMemHolds(),
		guests:       newMemGuests(),
		bookings:     newMemBookings(),
		correlations: newMemCorrelations(),
		notifier:     &recordingNotifier{},
	}
	f.holds.now = func() time.Time { return fixtureNow }
	for _, r := range rooms {
		if err := f.mirror.SaveRoom(context.Background(), r); err != nil {
			t.Fatalf("seed mirror: %v", err)
		}
	}

	f.availability = NewAvailabilityService(f.rooms, f.mirror, logger)
	f.orchestrator = NewBookingOrchestratorService(
		f.rooms, f.bookings, f.correlations,
		NewGuestService(f.guests, logger),
		NewHoldService(f.holds, DefaultHoldTTL, logger),
		f.availability, f.notifier, DefaultOrchestratorConfig(), logger,
	)
	f.orchestrator.now = func() time.Time { return fixtureNow }
	f.reconciler = NewPaymentReconciliationService(f.rooms, f.bookings, f.correlations, f.availability, f.notifier, logger)
	return f
}

func testRoom(id string) *models.Room {
	return &models.Room{ID: id, Title: "Room " + id, WinterPrice: 500, SummerPrice: 300}
}

func guestDetails(email string) *models.GuestDetails {
	return &models.GuestDetails{Email: email, Name: "Guest", Age: json.RawMessage(`"21"`)}
}

func period(roomID string, semester models.Semester) models.BookingPeriodInput {
	return models.BookingPeriodInput{RoomID: roomID, Semester: semester, Year: fixtureYear}
}

func totalPrice(v float64) *float64 { return &v }
