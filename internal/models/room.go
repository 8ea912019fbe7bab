package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ============================================================================
// PERIOD VOCABULARY
// ============================================================================

// Semester is a bookable period label within an academic year
type Semester string

const (
	SemesterFirst  Semester = "1st Semester"
	SemesterSecond Semester = "2nd Semester"
	SemesterBoth   Semester = "Both Semesters"
	SemesterFull   Semester = "Full Year"
	SemesterJuly   Semester = "July"
	SemesterAugust Semester = "August"
)

// AllSemesters lists the period vocabulary in display order
var AllSemesters = []Semester{
	SemesterFirst, SemesterSecond, SemesterBoth, SemesterFull, SemesterJuly, SemesterAugust,
}

// IsValid reports whether the label belongs to the vocabulary
func (s Semester) IsValid() bool {
	for _, known := range AllSemesters {
		if s == known {
			return true
		}
	}
	return false
}

// IsSummerMonth reports whether the label is a one-shot summer month
func (s Semester) IsSummerMonth() bool {
	return s == SemesterJuly || s == SemesterAugust
}

// PeriodKeySeparator joins the owning correlation id and a unique suffix
const PeriodKeySeparator = "__"

// ============================================================================
// PERIOD CLAIM
// ============================================================================

// PeriodClaim is one entry of a room's booked periods
type PeriodClaim struct {
	Key      string   `json:"key"`
	Semester Semester `json:"semester"`
	Year     string   `json:"year"`
	Services Services `json:"services"`
}

// NewPeriodClaimKey builds a claim key owned by correlationID
func NewPeriodClaimKey(correlationID, suffix string) string {
	return correlationID + PeriodKeySeparator + suffix
}

// OwnedBy reports whether the claim was written by the given correlation id
func (p PeriodClaim) OwnedBy(correlationID string) bool {
	return correlationID != "" && strings.HasPrefix(p.Key, correlationID+PeriodKeySeparator)
}

// PeriodClaims stores booked periods as JSONB
type PeriodClaims []PeriodClaim

// Value implements driver.Valuer
func (p PeriodClaims) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner
func (p *PeriodClaims) Scan(value interface{}) error {
	if value == nil {
		*p = PeriodClaims{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("type assertion to []byte or string failed")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, p)
}

// WithoutOwner returns the claims not owned by correlationID, and how many were removed
func (p PeriodClaims) WithoutOwner(correlationID string) (PeriodClaims, int) {
	kept := make(PeriodClaims, 0, len(p))
	removed := 0
	for _, claim := range p {
		if claim.OwnedBy(correlationID) {
			removed++
			continue
		}
		kept = append(kept, claim)
	}
	return kept, removed
}

// ============================================================================
// AVAILABILITY GRID
// ============================================================================

// YearOffer lists the labels a room offers for one academic year
type YearOffer struct {
	Year      string     `json:"year"`
	Semesters []Semester `json:"semesters"`
}

// AvailableSemesters stores the offerable grid as JSONB
type AvailableSemesters []YearOffer

// Value implements driver.Valuer
func (a AvailableSemesters) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *AvailableSemesters) Scan(value interface{}) error {
	if value == nil {
		*a = AvailableSemesters{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("type assertion to []byte or string failed")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Offers reports whether the grid allows semester in year.
// A year missing from the grid is treated as unrestricted.
func (a AvailableSemesters) Offers(year string, semester Semester) bool {
	for _, offer := range a {
		if offer.Year != year {
			continue
		}
		for _, s := range offer.Semesters {
			if s == semester {
				return true
			}
		}
		return false
	}
	return true
}

// ============================================================================
// ROOM
// ============================================================================

// Room is the source-of-truth room document
type Room struct {
	ID                 string             `json:"id" db:"id"`
	Title              string             `json:"title" db:"title"`
	Location           *string            `json:"location,omitempty" db:"location"`
	WinterPrice        float64            `json:"winter_price" db:"winter_price"` // per month
	SummerPrice        float64            `json:"summer_price" db:"summer_price"` // flat per summer month
	AvailableSemesters AvailableSemesters `json:"available_semesters" db:"available_semesters"`
	BookedPeriods      PeriodClaims       `json:"booked_periods" db:"booked_periods"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// BookingPeriodInput is one requested period
type BookingPeriodInput struct {
	RoomID      string        `json:"roomId" binding:"required"`
	Semester    Semester      `json:"semester" binding:"required"`
	Year        string        `json:"year" binding:"required,academic_year"`
	Services    Services      `json:"services,omitempty"`
	UserDetails *GuestDetails `json:"userDetails,omitempty"` // per-period mode
}

// EligibilityRequest is the body of the eligibility check
type EligibilityRequest struct {
	BookingPeriods []BookingPeriodInput `json:"bookingPeriods" binding:"required,min=1,dive"`
}

// EligibilityResponse is returned by the eligibility check
type EligibilityResponse struct {
	Eligible bool     `json:"eligible"`
	Errors   []string `json:"errors,omitempty"`
}
