package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
	"golang.org/x/sync/errgroup"
)

// AvailabilityService writes room period changes to the source store and the
// mirror concurrently. There is no distributed transaction: a failed mirror
// write is logged and left for the sync relay to reconverge, and a failed
// source write is returned without undoing the mirror.
type AvailabilityService struct {
	source RoomSource
	mirror RoomMirror
	logger *logrus.Logger
}

// NewAvailabilityService creates a new AvailabilityService
func NewAvailabilityService(source RoomSource, mirror RoomMirror, logger *logrus.Logger) *AvailabilityService {
	return &AvailabilityService{source: source, mirror: mirror, logger: logger}
}

// Append adds claims to the room in both stores
func (s *AvailabilityService) Append(ctx context.Context, roomID string, claims models.PeriodClaims) error {
	var sourceErr, mirrorErr error
	var g errgroup.Group

	g.Go(func() error {
		sourceErr = s.source.AppendPeriods(ctx, roomID, claims)
		return nil
	})
	g.Go(func() error {
		mirrorErr = s.mirror.AppendPeriods(ctx, roomID, claims)
		return nil
	})
	g.Wait()

	return s.settle("append", roomID, len(claims), sourceErr, mirrorErr)
}

// RemoveByOwner strips every claim owned by correlationID from both stores and
// returns the number removed from the source store
func (s *AvailabilityService) RemoveByOwner(ctx context.Context, roomID, correlationID string) (int, error) {
	var sourceRemoved int
	var sourceErr, mirrorErr error
	var g errgroup.Group

	g.Go(func() error {
		sourceRemoved, sourceErr = s.source.RemovePeriodsByOwner(ctx, roomID, correlationID)
		return nil
	})
	g.Go(func() error {
		_, mirrorErr = s.mirror.RemovePeriodsByOwner(ctx, roomID, correlationID)
		return nil
	})
	g.Wait()

	return sourceRemoved, s.settle("remove", roomID, sourceRemoved, sourceErr, mirrorErr)
}

func (s *AvailabilityService) settle(op, roomID string, count int, sourceErr, mirrorErr error) error {
	fields := logrus.Fields{"room_id": roomID, "operation": op, "periods": count}

	if mirrorErr != nil {
		s.logger.WithError(mirrorErr).WithFields(fields).Warn("Mirror store write failed; relay will reconverge")
	}
	if sourceErr != nil {
		s.logger.WithError(sourceErr).WithFields(fields).Error("Source store write failed")
		return fmt.Errorf("failed to %s periods for room %s: %w", op, roomID, sourceErr)
	}

	s.logger.WithFields(fields).Debug("Room periods written")
	return nil
}
