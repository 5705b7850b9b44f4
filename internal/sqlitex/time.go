package sqlitex

import (
	"database/sql"
	"strings"
	"time"
)

// TimeLayout is fixed width so string comparison orders chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout, RFC3339 variants, and SQLite's default format.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// NullTime parses a nullable column, returning the zero time when absent.
func NullTime(value sql.NullString) time.Time {
	if !value.Valid || value.String == "" {
		return time.Time{}
	}
	ts, err := ParseTime(value.String)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// NullableTime converts zero times to NULL.
func NullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return FormatTime(t)
}

// NullableString converts empty strings to NULL.
func NullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// NullableInt64 converts zero to NULL.
func NullableInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

// BoolToInt maps booleans to SQLite integers.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// Placeholders returns "?, ?, ..." with n entries.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
