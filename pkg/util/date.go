package util

import (
	"strconv"
	"time"
)

// JST is a fixed UTC+9 zone. The pipeline keys its daily cache on Japan
// wall-clock time regardless of where the process runs.
var JST = time.FixedZone("JST", 9*60*60)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
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
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// TodayJST returns today's calendar date in JST as YYYY-MM-DD.
func TodayJST(now time.Time) string {
	return now.In(JST).Format("2006-01-02")
}

// NoonBucketJST returns the daily cache bucket for now. The bucket switches
// at 12:00 JST: before noon the bucket is the previous calendar day, so two
// requests on the same day but on opposite sides of noon land in different
// buckets.
func NoonBucketJST(now time.Time) string {
	jst := now.In(JST)
	if jst.Hour() < 12 {
		jst = jst.AddDate(0, 0, -1)
	}
	return jst.Format("2006-01-02")
}

// DaysSince returns whole days elapsed from a YYYY-MM-DD date to now, or -1
// when the date does not parse.
func DaysSince(dateText string, now time.Time) int {
	t, err := time.Parse("2006-01-02", dateText)
	if err != nil {
		return -1
	}
	return int(now.Sub(t).Hours() / 24)
}
