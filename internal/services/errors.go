package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnauthorized is returned when a relay caller fails authentication
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError reports malformed or missing input
type ValidationError struct {
	Fields []string
}

// NewValidationError builds a ValidationError from one or more messages
func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// ConflictError aggregates every period conflict found, keyed by room id
type ConflictError struct {
	ByRoom map[string][]string
}

func (e *ConflictError) add(roomID string, messages ...string) {
	if e.ByRoom == nil {
		e.ByRoom = make(map[string][]string)
	}
	e.ByRoom[roomID] = append(e.ByRoom[roomID], messages...)
}

func (e *ConflictError) empty() bool {
	return len(e.ByRoom) == 0
}

// Messages flattens the report in room id order
func (e *ConflictError) Messages() []string {
	roomIDs := make([]string, 0, len(e.ByRoom))
	for id := range e.ByRoom {
		roomIDs = append(roomIDs, id)
	}
	sort.Strings(roomIDs)

	var out []string
	for _, id := range roomIDs {
		for _, msg := range e.ByRoom[id] {
			out = append(out, fmt.Sprintf("room %s: %s", id, msg))
		}
	}
	return out
}

func (e *ConflictError) Error() string {
	return "booking period conflict: " + strings.Join(e.Messages(), "; ")
}

// NotFoundError reports a referenced document that does not exist
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// UpstreamError wraps a failed call to a payment network or other external service
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
