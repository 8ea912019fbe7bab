package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/periods"
)

// DefaultHoldTTL is how long a provisional hold blocks other shoppers
const DefaultHoldTTL = 5 * time.Minute

// HoldService reserves provisional holds during eligibility checks.
// Holds are never promoted into booked periods; they only expire.
type HoldService struct {
	store  HoldStore
	ttl    time.Duration
	logger *logrus.Logger
}

// NewHoldService creates a new HoldService
func NewHoldService(store HoldStore, ttl time.Duration, logger *logrus.Logger) *HoldService {
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	return &HoldService{store: store, ttl: ttl, logger: logger}
}

// Reserve validates the batch against the rooms' persisted periods and every
// live hold, then records one hold per entry. Any conflict rejects the whole
// batch with a *ConflictError listing every room's conflicts.
func (s *HoldService) Reserve(ctx context.Context, batch []models.HoldRequest, persisted map[string]models.PeriodClaims) ([]models.ProvisionalHold, error) {
	guard := func(valid []models.ProvisionalHold) error {
		heldByRoom, _ := periods.GroupByRoom(valid, func(h models.ProvisionalHold) string { return h.RoomID })
		proposedByRoom, roomIDs := periods.GroupByRoom(batch, func(r models.HoldRequest) string { return r.RoomID })

		report := &ConflictError{}
		for _, roomID := range roomIDs {
			claims := append(models.PeriodClaims{}, persisted[roomID]...)
			for _, h := range heldByRoom[roomID] {
				claims = append(claims, h.AsClaim())
			}
			for i, req := range proposedByRoom[roomID] {
				claims = append(claims, models.PeriodClaim{
					Key:      models.NewPeriodClaimKey("proposed", fmt.Sprint(i)),
					Semester: req.Semester,
					Year:     req.Year,
				})
			}
			if conflicts := periods.Validate(claims); len(conflicts) > 0 {
				report.add(roomID, periods.Messages(conflicts)...)
			}
		}
		if !report.empty() {
			return report
		}
		return nil
	}

	holds, err := s.store.ReserveBatch(ctx, batch, s.ttl, guard)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"holds": len(holds),
		"ttl":   s.ttl.String(),
	}).Info("Provisional holds reserved")

	return holds, nil
}

// ListValid sweeps expired holds and returns the live ones
func (s *HoldService) ListValid(ctx context.Context) ([]models.ProvisionalHold, error) {
	return s.store.ListValid(ctx)
}

// SweepExpired deletes lapsed holds
func (s *HoldService) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx)
}
