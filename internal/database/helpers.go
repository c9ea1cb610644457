package database

import (
	"database/sql"
	"strings"
	"time"
)

// Millis converts t to the Unix millisecond form stored in every time column.
func Millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis is the inverse of Millis. Zero maps to the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// NullMillis converts a nullable millisecond column to a time pointer.
func NullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := FromMillis(value.Int64)
	return &t
}

// NullableString maps "" to SQL NULL.
func NullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// Placeholders returns "?,?,?" with count entries.
func Placeholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
