package utils

import (
	"time"
)

const secondsPerDay = 24 * 60 * 60

// localDay returns the number of whole local days since the epoch for ts under tzOffsetMinutes
func localDay(ts int64, tzOffsetMinutes int) int64 {
	local := ts + int64(tzOffsetMinutes)*60
	day := local / secondsPerDay
	if local%secondsPerDay < 0 {
		day--
	}
	return day
}

// DayKey returns the local calendar date (YYYY-MM-DD) of ts under the given offset
func DayKey(ts int64, tzOffsetMinutes int) string {
	return time.Unix(localDay(ts, tzOffsetMinutes)*secondsPerDay, 0).UTC().Format(time.DateOnly)
}

// StartOfDay returns the instant of local midnight starting the local date of ts
func StartOfDay(ts int64, tzOffsetMinutes int) int64 {
	return localDay(ts, tzOffsetMinutes)*secondsPerDay - int64(tzOffsetMinutes)*60
}

// StartOfNextLocalDay returns the instant of local midnight following the local date of ts.
// The result is always in (ts, ts+24h].
func StartOfNextLocalDay(ts int64, tzOffsetMinutes int) int64 {
	return StartOfDay(ts, tzOffsetMinutes) + secondsPerDay
}

// FormatOffset renders an offset in minutes as UTC+HH:MM
func FormatOffset(tzOffsetMinutes int) string {
	return "UTC" + time.Unix(0, 0).In(time.FixedZone("", tzOffsetMinutes*60)).Format("-07:00")
}
