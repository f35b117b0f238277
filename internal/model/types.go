package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSet is a list of strings persisted as a JSON array in a TEXT column.
type StringSet []string

// Value implements driver.Valuer.
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("marshal string set: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StringSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = StringSet{}
		return nil
	case string:
		return s.scanBytes([]byte(v))
	case []byte:
		return s.scanBytes(v)
	default:
		return fmt.Errorf("cannot scan %T into StringSet", src)
	}
}

func (s *StringSet) scanBytes(b []byte) error {
	if len(b) == 0 {
		*s = StringSet{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("unmarshal string set: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*s = out
	return nil
}
