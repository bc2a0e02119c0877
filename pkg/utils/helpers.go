package utils

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseDuration safely parses a duration string like "5m", falling back
// to def when the string is empty or malformed.
func ParseDuration(d string, def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	duration, err := time.ParseDuration(d)
	if err != nil {
		return def
	}
	return duration
}

// ParseNumber parses a report value. "N/A" counts as zero; surrounding
// whitespace and a trailing '%' are ignored. Infinities and NaN are not
// numbers here, so "INFINITY" slack is dropped like any unparseable value.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "N/A") {
		return 0, true
	}
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ParseTime accepts an RFC 3339 timestamp or a plain date.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseEndTime is ParseTime for the upper bound of a range: a plain date
// covers the whole day.
func ParseEndTime(s string) (time.Time, bool) {
	if t, err := time.Parse("2006-01-02", strings.TrimSpace(s)); err == nil {
		return t.AddDate(0, 0, 1).Add(-time.Nanosecond), true
	}
	return ParseTime(s)
}
