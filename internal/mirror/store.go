// Package mirror keeps the read-optimized copy of room availability and relayed
// documents in Redis.
//
// Layout:
//
//	room:{id}            room document JSON (booked periods excluded)
//	room:{id}:periods    hash of claim key -> claim JSON
//	rooms                set of room ids
//	doc:{collection}:{id} relayed document JSON
//	docs:{collection}    set of document ids per collection
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/studentrooms/booking-backend/internal/models"
)

const roomIndexKey = "rooms"

// Store is the Redis-backed mirror
type Store struct {
	rdb *redis.Client
}

// NewStore wraps an existing client
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Connect parses a redis:// URL and verifies the connection
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

func roomKey(id string) string       { return "room:" + id }
func periodsKey(id string) string    { return "room:" + id + ":periods" }
func docKey(coll, id string) string  { return "doc:" + coll + ":" + id }
func docIndexKey(coll string) string { return "docs:" + coll }

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// ============================================================================
// ROOMS
// ============================================================================

// SaveRoom replaces the room document and its period hash in one MULTI block
func (s *Store) SaveRoom(ctx context.Context, room *models.Room) error {
	doc := *room
	doc.BookedPeriods = nil
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode room: %w", err)
	}

	fields, err := claimFields(room.BookedPeriods)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(room.ID), payload, 0)
		pipe.Del(ctx, periodsKey(room.ID))
		if len(fields) > 0 {
			pipe.HSet(ctx, periodsKey(room.ID), fields)
		}
		pipe.SAdd(ctx, roomIndexKey, room.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", room.ID, err)
	}
	return nil
}

// DeleteRoom removes the room document, its periods and its index entry
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(id), periodsKey(id))
		pipe.SRem(ctx, roomIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", id, err)
	}
	return nil
}

// GetRoom returns the mirrored room, or nil when it is not mirrored
func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	payload, err := s.rdb.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", id, err)
	}

	var room models.Room
	if err := json.Unmarshal(payload, &room); err != nil {
		return nil, fmt.Errorf("failed to decode room %s: %w", id, err)
	}

	claims, err := s.Periods(ctx, id)
	if err != nil {
		return nil, err
	}
	room.BookedPeriods = claims
	return &room, nil
}

// ListRooms returns every mirrored room, ordered by id
func (s *Store) ListRooms(ctx context.Context) ([]*models.Room, error) {
	ids, err := s.rdb.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	sort.Strings(ids)

	rooms := make([]*models.Room, 0, len(ids))
	for _, id := range ids {
		room, err := s.GetRoom(ctx, id)
		if err != nil {
			return nil, err
		}
		if room != nil {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

// Periods returns the room's claims ordered by key
func (s *Store) Periods(ctx context.Context, roomID string) (models.PeriodClaims, error) {
	values, err := s.rdb.HGetAll(ctx, periodsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read periods for room %s: %w", roomID, err)
	}

	claims := make(models.PeriodClaims, 0, len(values))
	for key, raw := range values {
		var claim models.PeriodClaim
		if err := json.Unmarshal([]byte(raw), &claim); err != nil {
			return nil, fmt.Errorf("failed to decode period %s: %w", key, err)
		}
		claims = append(claims, claim)
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].Key < claims[j].Key })
	return claims, nil
}

// AppendPeriods adds claims to the room's period hash
func (s *Store) AppendPeriods(ctx context.Context, roomID string, claims models.PeriodClaims) error {
	if len(claims) == 0 {
		return nil
	}
	fields, err := claimFields(claims)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, periodsKey(roomID), fields).Err(); err != nil {
		return fmt.Errorf("failed to append periods for room %s: %w", roomID, err)
	}
	return nil
}

// RemovePeriodsByOwner deletes every claim whose key starts with the
// correlation id, and returns how many were removed
func (s *Store) RemovePeriodsByOwner(ctx context.Context, roomID, correlationID string) (int, error) {
	if correlationID == "" {
		return 0, nil
	}

	pattern := escapeGlob(correlationID+models.PeriodKeySeparator) + "*"
	var keys []string
	iter := s.rdb.HScan(ctx, periodsKey(roomID), 0, pattern, 100).Iterator()
	for i := 0; iter.Next(ctx); i++ {
		// HSCAN yields field, value, field, value...
		if i%2 == 0 {
			keys = append(keys, iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan periods for room %s: %w", roomID, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := s.rdb.HDel(ctx, periodsKey(roomID), keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to remove periods for room %s: %w", roomID, err)
	}
	return int(removed), nil
}

func claimFields(claims models.PeriodClaims) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(claims))
	for _, claim := range claims {
		raw, err := json.Marshal(claim)
		if err != nil {
			return nil, fmt.Errorf("failed to encode period %s: %w", claim.Key, err)
		}
		fields[claim.Key] = raw
	}
	return fields, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

// ============================================================================
// RELAYED DOCUMENTS
// ============================================================================

// PutDocument stores a relayed document
func (s *Store) PutDocument(ctx context.Context, collection, id string, doc json.RawMessage) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, docKey(collection, id), []byte(doc), 0)
		pipe.SAdd(ctx, docIndexKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", collection, id, err)
	}
	return nil
}

// GetDocument returns a relayed document, or nil when absent
func (s *Store) GetDocument(ctx context.Context, collection, id string) (json.RawMessage, error) {
	payload, err := s.rdb.Get(ctx, docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return payload, nil
}

// DeleteDocument removes a relayed document
func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(collection, id))
		pipe.SRem(ctx, docIndexKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}
