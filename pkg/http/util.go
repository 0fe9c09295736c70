package http

import (
	"time"

	xutil "CoinAlarm/pkg/util"
)

// ParseTime accepts RFC3339, zoneless UTC timestamps and unix seconds or milliseconds.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }
