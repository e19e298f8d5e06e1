package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a []string stored as a JSONB column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	return scanJSON(src, l, "StringList")
}

// MetadataMap is a free-form string map stored as a JSONB column.
type MetadataMap map[string]string

// Value implements driver.Valuer.
func (m MetadataMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *MetadataMap) Scan(src any) error {
	return scanJSON(src, m, "MetadataMap")
}

// Value implements driver.Valuer.
func (m FieldMapping) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *FieldMapping) Scan(src any) error {
	return scanJSON(src, m, "FieldMapping")
}

func scanJSON(src, dst any, name string) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into %s", src, name)
	}
}
