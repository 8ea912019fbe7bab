package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// GuestIDList maps a uuid[] column. Postgres returns it as a text array,
// so values travel through pq.StringArray in both directions.
type GuestIDList []uuid.UUID

// Value implements the driver.Valuer interface
func (l GuestIDList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	raw := make(pq.StringArray, len(l))
	for i, id := range l {
		raw[i] = id.String()
	}
	return raw.Value()
}

// Scan implements the sql.Scanner interface
func (l *GuestIDList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	var raw pq.StringArray
	if err := raw.Scan(src); err != nil {
		return err
	}
	ids := make(GuestIDList, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid guest id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	*l = ids
	return nil
}
