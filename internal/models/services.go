package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Service is an optional add-on attached to a booked period
type Service struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Services is the canonical add-on list. Incoming payloads send it as an array of
// objects, an array of names, a JSON-encoded string or a single name; all of them
// decode into the same list.
type Services []Service

// UnmarshalJSON normalizes every accepted shape
func (s *Services) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Services{}
		return nil
	}

	switch data[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid services list: %w", err)
		}
		out := make(Services, 0, len(raw))
		for _, item := range raw {
			svc, ok, err := decodeService(item)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, svc)
			}
		}
		*s = out
		return nil
	case '{':
		svc, ok, err := decodeService(data)
		if err != nil {
			return err
		}
		*s = Services{}
		if ok {
			*s = append(*s, svc)
		}
		return nil
	case '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*s = Services{}
			return nil
		}
		// JSON-encoded list or object inside a string
		if strings.HasPrefix(str, "[") || strings.HasPrefix(str, "{") {
			return s.UnmarshalJSON([]byte(str))
		}
		*s = Services{{ID: slugify(str), Name: str}}
		return nil
	}

	return fmt.Errorf("unsupported services shape: %s", string(data))
}

// decodeService reads one list entry; empty entries report ok=false
func decodeService(item json.RawMessage) (Service, bool, error) {
	item = bytes.TrimSpace(item)
	if len(item) == 0 || bytes.Equal(item, []byte("null")) {
		return Service{}, false, nil
	}

	if item[0] == '"' {
		var name string
		if err := json.Unmarshal(item, &name); err != nil {
			return Service{}, false, err
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return Service{}, false, nil
		}
		return Service{ID: slugify(name), Name: name}, true, nil
	}

	var obj struct {
		ID    string          `json:"id"`
		Key   string          `json:"_key"`
		Name  string          `json:"name"`
		Title string          `json:"title"`
		Price json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return Service{}, false, fmt.Errorf("invalid service entry: %w", err)
	}

	svc := Service{ID: obj.ID, Name: obj.Name}
	if svc.Name == "" {
		svc.Name = obj.Title
	}
	if svc.ID == "" {
		svc.ID = obj.Key
	}
	if svc.ID == "" {
		svc.ID = slugify(svc.Name)
	}
	svc.Price = parseLoosePrice(obj.Price)

	if svc.ID == "" && svc.Name == "" {
		return Service{}, false, nil
	}
	return svc, true, nil
}

// parseLoosePrice accepts numbers and numeric strings; anything else is zero
func parseLoosePrice(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			return v
		}
	}
	return 0
}

func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// Total sums the add-on prices
func (s Services) Total() float64 {
	total := 0.0
	for _, svc := range s {
		total += svc.Price
	}
	return total
}

// Value implements driver.Valuer
func (s Services) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Service(s))
}

// Scan implements sql.Scanner
func (s *Services) Scan(value interface{}) error {
	if value == nil {
		*s = Services{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return s.UnmarshalJSON(v)
	case string:
		return s.UnmarshalJSON([]byte(v))
	}
	return errors.New("type assertion to []byte or string failed")
}
