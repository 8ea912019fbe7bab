package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studentrooms/booking-backend/internal/models"
)

func TestSyncRelayApply_Rooms(t *testing.T) {
	m := newMirror(t)
	source := newMemRooms()
	svc := NewSyncRelayService(source, m, testLogger())
	ctx := context.Background()

	body := json.RawMessage(`{
		"_id": "room-9",
		"_type": "room",
		"title": "Garden Studio",
		"winterPrice": 450,
		"summerPrice": 250,
		"availableSemesters": [{"year": "2025/2026", "semesters": ["Full Year", "July"]}],
		"bookedPeriods": [{"key": "c1__a", "semester": "July", "year": "2025/2026"}]
	}`)

	result, err := svc.Apply(ctx, RelayChange{ProjectID: "proj", Operation: RelayCreate, DocumentID: "room-9", Body: body})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "room", result.Collection)

	room, err := m.GetRoom(ctx, "room-9")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, "Garden Studio", room.Title)
	assert.Equal(t, 450.0, room.WinterPrice)
	assert.True(t, room.AvailableSemesters.Offers(fixtureYear, models.SemesterJuly))
	assert.Empty(t, room.BookedPeriods, "authored bookedPeriods must be ignored")

	stored, err := source.GetByID(ctx, "room-9")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Garden Studio", stored.Title)
	assert.Empty(t, stored.BookedPeriods)

	_, err = svc.Apply(ctx, RelayChange{Operation: RelayDelete, DocumentID: "room-9", Body: json.RawMessage(`{"_type":"room"}`)})
	require.NoError(t, err)
	room, err = m.GetRoom(ctx, "room-9")
	require.NoError(t, err)
	assert.Nil(t, room)
}

func TestSyncRelayApply_RoomEditKeepsBookedPeriods(t *testing.T) {
	f := newBookingFixture(t, testRoom("room-1"))
	ctx := context.Background()

	_, err := f.orchestrator.Commit(ctx, &models.CommitBookingRequest{
		BookingPeriods:    []models.BookingPeriodInput{period("room-1", models.SemesterFirst)},
		CommonUserDetails: guestDetails("a@example.com"),
		TotalPrice:        totalPrice(500),
	})
	require.NoError(t, err)
	require.Len(t, f.rooms.periods("room-1"), 1)

	svc := NewSyncRelayService(f.rooms, f.mirror, testLogger())
	_, err = svc.Apply(ctx, RelayChange{
		Operation:  RelayUpdate,
		DocumentID: "room-1",
		Body:       json.RawMessage(`{"_type":"room","title":"Room room-1 renamed","winterPrice":520,"summerPrice":300}`),
	})
	require.NoError(t, err)

	mirrored, err := f.mirror.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	require.NotNil(t, mirrored)
	assert.Equal(t, "Room room-1 renamed", mirrored.Title)
	assert.Equal(t, 520.0, mirrored.WinterPrice)

	source := f.rooms.periods("room-1")
	require.Len(t, mirrored.BookedPeriods, len(source))
	assert.Equal(t, source[0].Key, mirrored.BookedPeriods[0].Key)
}

type failingContentStore struct{}

func (failingContentStore) UpsertContent(context.Context, *models.Room) (*models.Room, error) {
	return nil, errors.New("source down")
}

func TestSyncRelayApply_SourceFailureLeavesMirror(t *testing.T) {
	m := newMirror(t)
	svc := NewSyncRelayService(failingContentStore{}, m, testLogger())
	ctx := context.Background()

	_, err := svc.Apply(ctx, RelayChange{
		Operation:  RelayCreate,
		DocumentID: "room-7",
		Body:       json.RawMessage(`{"_type":"room","title":"Loft"}`),
	})
	assert.ErrorContains(t, err, "source down")

	room, err := m.GetRoom(ctx, "room-7")
	require.NoError(t, err)
	assert.Nil(t, room)
}

func TestSyncRelayApply_OpaqueDocuments(t *testing.T) {
	m := newMirror(t)
	svc := NewSyncRelayService(newMemRooms(), m, testLogger())
	ctx := context.Background()

	body := json.RawMessage(`{"_type":"faq","question":"Pets?"}`)
	result, err := svc.Apply(ctx, RelayChange{Operation: RelayUpdate, DocumentID: "faq-1", Body: body})
	require.NoError(t, err)
	assert.Equal(t, "faq", result.Collection)

	stored, err := m.GetDocument(ctx, "faq", "faq-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(stored))

	result, err = svc.Apply(ctx, RelayChange{Operation: RelayUpdate, DocumentID: "misc-1", Body: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	assert.Equal(t, "documents", result.Collection)

	_, err = svc.Apply(ctx, RelayChange{Operation: RelayDelete, DocumentID: "faq-1", Body: json.RawMessage(`{"_type":"faq"}`)})
	require.NoError(t, err)
	stored, err = m.GetDocument(ctx, "faq", "faq-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSyncRelayApply_Rejections(t *testing.T) {
	svc := NewSyncRelayService(newMemRooms(), newMirror(t), testLogger())

	tests := []struct {
		name   string
		change RelayChange
	}{
		{"unsupported operation", RelayChange{Operation: "patch", DocumentID: "x", Body: json.RawMessage(`{}`)}},
		{"missing document id", RelayChange{Operation: RelayCreate, Body: json.RawMessage(`{}`)}},
		{"empty body", RelayChange{Operation: RelayCreate, DocumentID: "x"}},
		{"malformed room", RelayChange{Operation: RelayCreate, DocumentID: "x", Body: json.RawMessage(`{"_type":"room","winterPrice":"cheap"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Apply(context.Background(), tt.change)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}
