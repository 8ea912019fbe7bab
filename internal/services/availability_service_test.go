package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studentrooms/booking-backend/internal/models"
)

func TestAvailability_MirrorFailureLogged(t *testing.T) {
	rooms := newMemRooms(testRoom("room-1"))
	svc := NewAvailabilityService(rooms, failingMirror{}, testLogger())
	claims := models.PeriodClaims{{Key: "c1__a", Semester: models.SemesterFirst, Year: fixtureYear}}

	require.NoError(t, svc.Append(context.Background(), "room-1", claims))
	assert.Len(t, rooms.periods("room-1"), 1)

	removed, err := svc.RemoveByOwner(context.Background(), "room-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestAvailability_SourceFailureReturned(t *testing.T) {
	rooms := newMemRooms(testRoom("room-1"))
	rooms.appendErr = errors.New("disk full")
	m := newMirror(t)
	svc := NewAvailabilityService(rooms, m, testLogger())
	claims := models.PeriodClaims{{Key: "c1__a", Semester: models.SemesterFirst, Year: fixtureYear}}

	err := svc.Append(context.Background(), "room-1", claims)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room-1")

	// the mirror write is not undone
	mirrored, err := m.Periods(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Len(t, mirrored, 1)
}

func TestAvailability_UnknownRoom(t *testing.T) {
	svc := NewAvailabilityService(newMemRooms(), newMirror(t), testLogger())

	_, err := svc.RemoveByOwner(context.Background(), "missing", "c1")
	assert.Error(t, err)
}
