package util

import (
    "strconv"
    "time"
)

// zoneless layout used by exchange candle APIs; interpreted as UTC.
const localLayout = "2006-01-02T15:04:05"

// ParseTime tries RFC3339, RFC3339Nano, a zoneless ISO timestamp (UTC), and
// unix seconds or milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
    if s == "" {
        return time.Time{}, false
    }
    if t, err := time.Parse(time.RFC3339, s); err == nil {
        return t, true
    }
    if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
        return t, true
    }
    if t, err := time.ParseInLocation(localLayout, s, time.UTC); err == nil {
        return t, true
    }
    if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
        return FromUnixAuto(ts), true
    }
    return time.Time{}, false
}

// FromUnixAuto treats values above 1e12 as milliseconds.
func FromUnixAuto(ts int64) time.Time {
    if ts > 1e12 {
        return time.UnixMilli(ts).UTC()
    }
    return time.Unix(ts, 0).UTC()
}

// FormatUTC renders t in the zoneless UTC form accepted by ParseTime.
func FormatUTC(t time.Time) string {
    return t.UTC().Format(localLayout)
}
