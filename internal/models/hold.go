package models

import (
	"time"

	"github.com/google/uuid"
)

// HoldKeyPrefix marks claims synthesized from provisional holds
const HoldKeyPrefix = "hold"

// ProvisionalHold is a short-lived advisory claim taken during eligibility checks
type ProvisionalHold struct {
	ID        uuid.UUID `json:"id" db:"id"`
	RoomID    string    `json:"room_id" db:"room_id"`
	Semester  Semester  `json:"semester" db:"semester"`
	Year      string    `json:"year" db:"year"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// HoldRequest is one entry of a reserve batch
type HoldRequest struct {
	RoomID   string
	Semester Semester
	Year     string
}

// AsClaim synthesizes a period claim so holds can be validated with booked periods
func (h ProvisionalHold) AsClaim() PeriodClaim {
	return PeriodClaim{
		Key:      NewPeriodClaimKey(HoldKeyPrefix, h.ID.String()),
		Semester: h.Semester,
		Year:     h.Year,
	}
}
