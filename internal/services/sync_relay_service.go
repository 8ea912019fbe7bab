package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/studentrooms/booking-backend/internal/models"
)

// RelayOperation is the kind of change the content store reports
type RelayOperation string

const (
	RelayCreate RelayOperation = "create"
	RelayUpdate RelayOperation = "update"
	RelayDelete RelayOperation = "delete"
)

const (
	roomCollection    = "room"
	defaultCollection = "documents"
)

// RelayChange is one document change forwarded by the content store
type RelayChange struct {
	ProjectID  string
	Operation  RelayOperation
	DocumentID string
	Body       json.RawMessage
}

// RelayResult is returned after a change has been applied to the mirror
type RelayResult struct {
	Success    bool           `json:"success"`
	Operation  RelayOperation `json:"operation"`
	DocumentID string         `json:"documentId"`
	Collection string         `json:"collection"`
	Timestamp  time.Time      `json:"timestamp"`
}

// relayRoom is the shape of a room document as authored in the content store
type relayRoom struct {
	ID                 string                    `json:"_id"`
	Title              string                    `json:"title"`
	Location           *string                   `json:"location"`
	WinterPrice        float64                   `json:"winterPrice"`
	SummerPrice        float64                   `json:"summerPrice"`
	AvailableSemesters models.AvailableSemesters `json:"availableSemesters"`
}

// SyncRelayService replays content store changes onto the mirror
type SyncRelayService struct {
	source RoomContentStore
	mirror DocumentMirror
	logger *logrus.Logger
	now    func() time.Time
}

// NewSyncRelayService creates a new SyncRelayService
func NewSyncRelayService(source RoomContentStore, mirror DocumentMirror, logger *logrus.Logger) *SyncRelayService {
	return &SyncRelayService{source: source, mirror: mirror, logger: logger, now: time.Now}
}

// Apply writes one change into the mirror. Room content is upserted into the
// source first and mirrored with the source's booked periods; any other
// document type is kept as opaque JSON under its collection.
func (s *SyncRelayService) Apply(ctx context.Context, change RelayChange) (*RelayResult, error) {
	switch change.Operation {
	case RelayCreate, RelayUpdate, RelayDelete:
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported operation %q", change.Operation))
	}
	if change.DocumentID == "" {
		return nil, NewValidationError("documentId is required")
	}

	collection := collectionOf(change.Body)
	log := s.logger.WithFields(logrus.Fields{
		"project_id":  change.ProjectID,
		"operation":   change.Operation,
		"document_id": change.DocumentID,
		"collection":  collection,
	})

	var err error
	switch {
	case collection == roomCollection && change.Operation == RelayDelete:
		err = s.mirror.DeleteRoom(ctx, change.DocumentID)
	case collection == roomCollection:
		err = s.saveRoom(ctx, change)
	case change.Operation == RelayDelete:
		err = s.mirror.DeleteDocument(ctx, collection, change.DocumentID)
	default:
		if len(change.Body) == 0 {
			return nil, NewValidationError("document body is required")
		}
		err = s.mirror.PutDocument(ctx, collection, change.DocumentID, change.Body)
	}
	if err != nil {
		log.WithError(err).Error("Failed to apply relayed change")
		return nil, err
	}

	log.Info("Relayed change applied")
	return &RelayResult{
		Success:    true,
		Operation:  change.Operation,
		DocumentID: change.DocumentID,
		Collection: collection,
		Timestamp:  s.now().UTC(),
	}, nil
}

func (s *SyncRelayService) saveRoom(ctx context.Context, change RelayChange) error {
	var doc relayRoom
	if err := json.Unmarshal(change.Body, &doc); err != nil {
		return NewValidationError("room document is not valid JSON: " + err.Error())
	}

	stored, err := s.source.UpsertContent(ctx, &models.Room{
		ID:                 change.DocumentID,
		Title:              doc.Title,
		Location:           doc.Location,
		WinterPrice:        doc.WinterPrice,
		SummerPrice:        doc.SummerPrice,
		AvailableSemesters: doc.AvailableSemesters,
	})
	if err != nil {
		return err
	}

	// booked periods come from the source, never from the relayed document
	if err := s.mirror.SaveRoom(ctx, stored); err != nil {
		return fmt.Errorf("failed to mirror room %s: %w", stored.ID, err)
	}
	return nil
}

// collectionOf reads the document type, falling back to the generic collection
func collectionOf(body json.RawMessage) string {
	if len(body) == 0 {
		return defaultCollection
	}
	var head struct {
		Type string `json:"_type"`
	}
	if err := json.Unmarshal(body, &head); err != nil || head.Type == "" {
		return defaultCollection
	}
	return head.Type
}
