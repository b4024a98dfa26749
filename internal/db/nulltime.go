package db

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// NullTime is a nullable timestamp that accepts both time.Time and the
// string forms SQLite hands back for DATETIME columns.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// NewNullTime wraps t, treating the zero time as NULL.
func NewNullTime(t time.Time) NullTime {
	return NullTime{Time: t, Valid: !t.IsZero()}
}

var timeFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Scan implements sql.Scanner for NullTime
func (nt *NullTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		nt.Time, nt.Valid = time.Time{}, false
		return nil
	case time.Time:
		nt.Time, nt.Valid = v, true
		return nil
	case []byte:
		return nt.parse(string(v))
	case string:
		return nt.parse(v)
	default:
		return fmt.Errorf("unsupported Scan type for NullTime: %T", value)
	}
}

func (nt *NullTime) parse(s string) error {
	var err error
	for _, format := range timeFormats {
		var t time.Time
		if t, err = time.Parse(format, s); err == nil {
			nt.Time, nt.Valid = t, true
			return nil
		}
	}
	return fmt.Errorf("failed to parse time string %q: %w", s, err)
}

// Value implements driver.Valuer for NullTime
func (nt NullTime) Value() (driver.Value, error) {
	if !nt.Valid {
		return nil, nil
	}
	return nt.Time, nil
}

// Get returns the time, or the zero time when NULL.
func (nt NullTime) Get() time.Time {
	if nt.Valid {
		return nt.Time
	}
	return time.Time{}
}
