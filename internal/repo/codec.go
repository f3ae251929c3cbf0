package repo

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// timeFormat is the canonical persisted timestamp layout. Nanosecond
// precision matters: last-write-wins conflict resolution compares these
// values directly.
const timeFormat = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeFormat, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", raw, err)
	}
	return t, nil
}

// timeToNullString converts an optional timestamp for storage.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

// nullTime converts a stored optional timestamp back.
func nullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// jsonText serializes a structured field (tags, traits, speech patterns)
// into its TEXT column. Nil/empty values persist as NULL.
func jsonText(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal field: %w", err)
	}
	s := string(data)
	if s == "null" || s == "[]" || s == "{}" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// fromJSONText deserializes a structured TEXT column into out.
func fromJSONText(ns sql.NullString, out any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), out); err != nil {
		return fmt.Errorf("corrupt structured column: %w", err)
	}
	return nil
}

// nullStr persists empty strings as NULL.
func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
