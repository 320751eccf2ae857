package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*StringList)(nil)
	_ driver.Valuer = StringList(nil)
)

// StringList is an ordered list of strings stored as a JSONB array.
// Topic resources, learning objectives and task resources use it so that the
// column keeps insertion order and accepts arbitrary text.
type StringList []string

// scanJSONB scans a JSONB database value into dest.
// It handles nil values and both []byte and string driver representations.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements sql.Scanner. A NULL column yields an empty, non-nil list.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	var out []string
	if err := scanJSONB(&out, value); err != nil {
		return err
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// Value implements driver.Valuer. A nil list is written as an empty array so
// the column never holds NULL.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Clean drops blank entries and trims the list to max items (0 = no cap).
func (l StringList) Clean(max int) StringList {
	out := make(StringList, 0, len(l))
	for _, s := range l {
		if s == "" {
			continue
		}
		out = append(out, s)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
