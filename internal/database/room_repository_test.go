package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studentrooms/booking-backend/internal/models"
)

var roomRowColumns = []string{
	"id", "title", "location", "winter_price", "summer_price",
	"available_semesters", "booked_periods", "created_at", "updated_at",
}

func TestRoomGetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRoomRepository(db)
	now := time.Now()

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM rooms WHERE id = \$1`).
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows(roomRowColumns).AddRow(
				"room-1", "Attic", nil, 500.0, 300.0,
				[]byte(`[{"year":"2025/2026","semesters":["Full Year"]}]`),
				[]byte(`[{"key":"c1__a","semester":"July","year":"2025/2026","services":[]}]`),
				now, now,
			))

		room, err := repo.GetByID(context.Background(), "room-1")
		require.NoError(t, err)
		require.NotNil(t, room)
		assert.Equal(t, "Attic", room.Title)
		assert.Nil(t, room.Location)
		require.Len(t, room.BookedPeriods, 1)
		assert.True(t, room.BookedPeriods[0].OwnedBy("c1"))
		assert.False(t, room.AvailableSemesters.Offers("2025/2026", models.SemesterFirst))
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM rooms`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

		room, err := repo.GetByID(context.Background(), "missing")
		assert.NoError(t, err)
		assert.Nil(t, room)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomGetByIDs(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRoomRepository(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM rooms WHERE id IN \(\$1, \$2\)`).
		WithArgs("room-1", "room-2").
		WillReturnRows(sqlmock.NewRows(roomRowColumns).
			AddRow("room-1", "Attic", nil, 500.0, 300.0, []byte(`[]`), []byte(`[]`), now, now))

	rooms, err := repo.GetByIDs(context.Background(), []string{"room-1", "room-2"})
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
	assert.Contains(t, rooms, "room-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomAppendPeriods(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRoomRepository(db)
	claims := models.PeriodClaims{{Key: "c1__a", Semester: models.SemesterFirst, Year: "2025/2026"}}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE rooms\s+SET booked_periods = COALESCE`).
			WithArgs("room-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.AppendPeriods(context.Background(), "room-1", claims))
	})

	t.Run("Room missing", func(t *testing.T) {
		mock.ExpectExec(`UPDATE rooms`).
			WithArgs("ghost", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.AppendPeriods(context.Background(), "ghost", claims), ErrRoomNotFound)
	})

	t.Run("Nothing to append", func(t *testing.T) {
		assert.NoError(t, repo.AppendPeriods(context.Background(), "room-1", nil))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomRemovePeriodsByOwner(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRoomRepository(db)

	stored, err := json.Marshal(models.PeriodClaims{
		{Key: "c1__a", Semester: models.SemesterFirst, Year: "2025/2026"},
		{Key: "c1__b", Semester: models.SemesterJuly, Year: "2025/2026"},
		{Key: "c10__a", Semester: models.SemesterSecond, Year: "2025/2026"},
	})
	require.NoError(t, err)

	t.Run("Removes owned claims", func(t *testing.T) {
		mock.ExpectQuery(`SELECT booked_periods FROM rooms`).
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows([]string{"booked_periods"}).AddRow(stored))
		mock.ExpectExec(`UPDATE rooms SET booked_periods = \$2`).
			WithArgs("room-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		removed, err := repo.RemovePeriodsByOwner(context.Background(), "room-1", "c1")
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
	})

	t.Run("Nothing owned", func(t *testing.T) {
		mock.ExpectQuery(`SELECT booked_periods FROM rooms`).
			WithArgs("room-1").
			WillReturnRows(sqlmock.NewRows([]string{"booked_periods"}).AddRow(stored))

		removed, err := repo.RemovePeriodsByOwner(context.Background(), "room-1", "c2")
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("Room missing", func(t *testing.T) {
		mock.ExpectQuery(`SELECT booked_periods FROM rooms`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

		_, err := repo.RemovePeriodsByOwner(context.Background(), "ghost", "c1")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomUpsertContent_KeepsBookedPeriods(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRoomRepository(db)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO rooms (.+) ON CONFLICT \(id\) DO UPDATE SET (.+) RETURNING`).
		WithArgs("room-1", "Attic renamed", nil, 520.0, 300.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(roomRowColumns).AddRow(
			"room-1", "Attic renamed", nil, 520.0, 300.0,
			[]byte(`[]`),
			[]byte(`[{"key":"c1__a","semester":"1st Semester","year":"2025/2026","services":[]}]`),
			now, now,
		))

	stored, err := repo.UpsertContent(context.Background(), &models.Room{
		ID:          "room-1",
		Title:       "Attic renamed",
		WinterPrice: 520,
		SummerPrice: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, 520.0, stored.WinterPrice)
	require.Len(t, stored.BookedPeriods, 1)
	assert.True(t, stored.BookedPeriods[0].OwnedBy("c1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
