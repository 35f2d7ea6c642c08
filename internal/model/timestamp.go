package model

import (
    "errors"
    "strings"
    "time"
)

// ErrInvalidTimestamp is returned by ParseTimestamp for unrecognised input.
var ErrInvalidTimestamp = errors.New("invalid timestamp, use RFC 3339 (e.g. 2025-03-10T12:00:00Z)")

// timestampLayouts are accepted for effective timestamps, most precise
// first.  Values without a zone are taken as UTC.
var timestampLayouts = []string{
    time.RFC3339Nano,
    "2006-01-02T15:04:05",
    "2006-01-02T15:04",
    "2006-01-02 15:04:05",
    "2006-01-02 15:04",
    time.DateOnly,
}

// ParseTimestamp parses an optional effective timestamp.  An empty string
// yields the zero time, which the ledger reads as "now".
func ParseTimestamp(s string) (time.Time, error) {
    s = strings.TrimSpace(s)
    if s == "" {
        return time.Time{}, nil
    }
    for _, layout := range timestampLayouts {
        if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
            return t.UTC(), nil
        }
    }
    return time.Time{}, ErrInvalidTimestamp
}
