package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
	"github.com/studentrooms/booking-backend/internal/periods"
	"github.com/studentrooms/booking-backend/internal/services"
)

// RoomLister reads rooms from the mirror
type RoomLister interface {
	ListRooms(ctx context.Context) ([]*models.Room, error)
}

// RoomReader reads a room from the source of truth
type RoomReader interface {
	GetByID(ctx context.Context, id string) (*models.Room, error)
}

// RoomHandler serves the room browse endpoints
type RoomHandler struct {
	mirror RoomLister
	source RoomReader
	logger *logrus.Logger
}

// NewRoomHandler creates a new RoomHandler
func NewRoomHandler(mirror RoomLister, source RoomReader, logger *logrus.Logger) *RoomHandler {
	return &RoomHandler{mirror: mirror, source: source, logger: logger}
}

// List handles GET /api/v1/rooms?semester=&year=
// Without both filters every mirrored room is returned.
func (h *RoomHandler) List(c *gin.Context) {
	semester := models.Semester(c.Query("semester"))
	year := c.Query("year")

	filtered := semester != "" || year != ""
	if filtered {
		var problems []string
		if !semester.IsValid() {
			problems = append(problems, "semester must be one of the known period labels")
		}
		if err := periods.ValidateAcademicYear(year); err != nil {
			problems = append(problems, err.Error())
		}
		if len(problems) > 0 {
			respondError(c, h.logger, services.NewValidationError(problems...))
			return
		}
	}

	rooms, err := h.mirror.ListRooms(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	out := make([]*models.Room, 0, len(rooms))
	for _, room := range rooms {
		if filtered && !available(room, semester, year) {
			continue
		}
		out = append(out, room)
	}

	c.JSON(http.StatusOK, gin.H{"rooms": out, "count": len(out)})
}

// Get handles GET /api/v1/rooms/:id
func (h *RoomHandler) Get(c *gin.Context) {
	id := c.Param("id")

	room, err := h.source.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if room == nil {
		respondError(c, h.logger, &services.NotFoundError{Kind: "room", ID: id})
		return
	}

	c.JSON(http.StatusOK, room)
}

// available reports whether the room offers the period and no claim conflicts with it
func available(room *models.Room, semester models.Semester, year string) bool {
	if !room.AvailableSemesters.Offers(year, semester) {
		return false
	}
	existing := len(periods.Validate(room.BookedPeriods))
	claims := append(models.PeriodClaims{}, room.BookedPeriods...)
	claims = append(claims, models.PeriodClaim{
		Key:      models.NewPeriodClaimKey("browse", "0"),
		Semester: semester,
		Year:     year,
	})
	// Claims are checked in order, so only the appended one can add conflicts
	return len(periods.Validate(claims)) == existing
}
