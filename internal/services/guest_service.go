package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
)

// GuestService finds or creates guest identities by email
type GuestService struct {
	store  GuestStore
	logger *logrus.Logger
}

// NewGuestService creates a new GuestService
func NewGuestService(store GuestStore, logger *logrus.Logger) *GuestService {
	return &GuestService{store: store, logger: logger}
}

// FindOrCreate resolves the guest for details.Email. A new guest is created
// with the supplied profile; an existing one is patched only on the columns
// whose supplied value differs.
//
// Lookup and insert are separate statements, so two first bookings for the
// same new email can both create a guest.
func (s *GuestService) FindOrCreate(ctx context.Context, details *models.GuestDetails) (*models.Guest, error) {
	if details == nil {
		return nil, NewValidationError("guest details are required")
	}
	email := details.NormalizedEmail()
	if email == "" {
		return nil, NewValidationError("guest email is required")
	}

	existing, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up guest: %w", err)
	}

	if existing == nil {
		guest := &models.Guest{
			Email:       email,
			Name:        strings.TrimSpace(details.Name),
			Age:         details.CoercedAge(),
			Gender:      optional(details.Gender),
			Address:     optional(details.Address),
			Nationality: optional(details.Nationality),
			IDNumber:    optional(details.IDNumber),
			Profession:  optional(details.Profession),
			Location:    optional(details.Location),
		}
		if err := s.store.Create(ctx, guest); err != nil {
			return nil, fmt.Errorf("failed to create guest: %w", err)
		}
		s.logger.WithFields(logrus.Fields{"guest_id": guest.ID}).Info("Guest created")
		return guest, nil
	}

	changes := profileDiff(existing, details)
	if len(changes) == 0 {
		return existing, nil
	}

	if err := s.store.UpdateFields(ctx, existing.ID, changes); err != nil {
		return nil, fmt.Errorf("failed to update guest: %w", err)
	}
	applyProfile(existing, changes)

	s.logger.WithFields(logrus.Fields{
		"guest_id": existing.ID,
		"fields":   len(changes),
	}).Info("Guest profile updated")

	return existing, nil
}

// profileDiff returns the allow-listed columns whose supplied value differs
// from the stored one. Fields left empty in the request are not compared.
func profileDiff(g *models.Guest, d *models.GuestDetails) map[string]interface{} {
	changes := make(map[string]interface{})

	if name := strings.TrimSpace(d.Name); name != "" && name != g.Name {
		changes["name"] = name
	}
	if len(d.Age) > 0 && string(d.Age) != "null" {
		if age := d.CoercedAge(); age != g.Age {
			changes["age"] = age
		}
	}

	optionalColumns := []struct {
		column string
		stored *string
		value  string
	}{
		{"gender", g.Gender, d.Gender},
		{"address", g.Address, d.Address},
		{"nationality", g.Nationality, d.Nationality},
		{"id_number", g.IDNumber, d.IDNumber},
		{"profession", g.Profession, d.Profession},
		{"location", g.Location, d.Location},
	}
	for _, col := range optionalColumns {
		value := strings.TrimSpace(col.value)
		if value == "" {
			continue
		}
		if col.stored == nil || *col.stored != value {
			changes[col.column] = value
		}
	}

	return changes
}

func applyProfile(g *models.Guest, changes map[string]interface{}) {
	for column, value := range changes {
		switch column {
		case "name":
			g.Name = value.(string)
		case "age":
			g.Age = value.(int)
		default:
			s := value.(string)
			switch column {
			case "gender":
				g.Gender = &s
			case "address":
				g.Address = &s
			case "nationality":
				g.Nationality = &s
			case "id_number":
				g.IDNumber = &s
			case "profession":
				g.Profession = &s
			case "location":
				g.Location = &s
			}
		}
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
