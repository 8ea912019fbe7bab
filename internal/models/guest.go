package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultGuestAge is used when the supplied age is missing or not numeric
const DefaultGuestAge = 18

// Guest is a tenant identity keyed by email
type Guest struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	Name        string    `json:"name" db:"name"`
	Age         int       `json:"age" db:"age"`
	Gender      *string   `json:"gender,omitempty" db:"gender"`
	Address     *string   `json:"address,omitempty" db:"address"`
	Nationality *string   `json:"nationality,omitempty" db:"nationality"`
	IDNumber    *string   `json:"id_number,omitempty" db:"id_number"`
	Profession  *string   `json:"profession,omitempty" db:"profession"`
	Location    *string   `json:"location,omitempty" db:"location"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// GuestDetails is the profile supplied with a booking request
type GuestDetails struct {
	Email       string          `json:"email"`
	Name        string          `json:"name"`
	Age         json.RawMessage `json:"age,omitempty"` // number or numeric string
	Gender      string          `json:"gender,omitempty"`
	Address     string          `json:"address,omitempty"`
	Nationality string          `json:"nationality,omitempty"`
	IDNumber    string          `json:"idNumber,omitempty"`
	Profession  string          `json:"profession,omitempty"`
	Location    string          `json:"location,omitempty"`
}

// NormalizedEmail is the lookup key for a guest
func (d *GuestDetails) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(d.Email))
}

// CoercedAge returns the age as an int, falling back to DefaultGuestAge
func (d *GuestDetails) CoercedAge() int {
	raw := strings.TrimSpace(string(d.Age))
	if raw == "" || raw == "null" {
		return DefaultGuestAge
	}
	raw = strings.Trim(raw, `"`)
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
		return n
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && f > 0 {
		return int(f)
	}
	return DefaultGuestAge
}

// GuestProfileColumns is the allow-list of columns a repeat booking may patch
var GuestProfileColumns = []string{
	"name", "age", "gender", "address", "nationality", "id_number", "profession", "location",
}
