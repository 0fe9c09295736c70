package util

import (
    "strconv"
    "testing"
    "time"
)

func TestParseTimeRFC3339(t *testing.T) {
    s := "2024-10-10T10:10:10Z"
    got, ok := ParseTime(s)
    if !ok {
        t.Fatalf("expected ok")
    }
    if got.UTC().Format(time.RFC3339) != s {
        t.Fatalf("unexpected time %v", got)
    }
}

func TestParseTimeZoneless(t *testing.T) {
    got, ok := ParseTime("2025-03-14T09:01:00")
    if !ok {
        t.Fatalf("expected ok")
    }
    want := time.Date(2025, 3, 14, 9, 1, 0, 0, time.UTC)
    if !got.Equal(want) {
        t.Fatalf("got %v want %v", got, want)
    }
    if FormatUTC(want) != "2025-03-14T09:01:00" {
        t.Fatalf("unexpected format %s", FormatUTC(want))
    }
}

func TestParseTimeUnix(t *testing.T) {
    ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
    got, ok := ParseTime(strconv.FormatInt(ts, 10))
    if !ok {
        t.Fatalf("expected ok")
    }
    if got.Unix() != ts {
        t.Fatalf("unexpected unix %v", got.Unix())
    }
}

func TestParseTimeUnixMillis(t *testing.T) {
    want := time.Date(2025, 3, 14, 9, 0, 0, 123e6, time.UTC)
    got, ok := ParseTime(strconv.FormatInt(want.UnixMilli(), 10))
    if !ok {
        t.Fatalf("expected ok")
    }
    if !got.Equal(want) {
        t.Fatalf("got %v want %v", got, want)
    }
}
