// Package gtfstime parses the two date/time encodings the static feed uses
// (YYYYMMDD service dates and HH:MM:SS schedule-of-day times, the latter
// allowed to exceed 24:00:00 for post-midnight trips) and turns them into
// absolute instants in an agency's timezone.
package gtfstime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDate parses a YYYYMMDD service date into its calendar-day components.
// It does not attach a timezone; callers combine it with a time-of-day via
// ParseInstant.
func ParseDate(yyyymmdd string) (year, month, day int, err error) {
	if len(yyyymmdd) != 8 {
		return 0, 0, 0, fmt.Errorf("gtfstime: invalid date %q: want YYYYMMDD", yyyymmdd)
	}
	year, err = strconv.Atoi(yyyymmdd[0:4])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("gtfstime: invalid date %q: %w", yyyymmdd, err)
	}
	month, err = strconv.Atoi(yyyymmdd[4:6])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("gtfstime: invalid date %q: %w", yyyymmdd, err)
	}
	day, err = strconv.Atoi(yyyymmdd[6:8])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("gtfstime: invalid date %q: %w", yyyymmdd, err)
	}
	return year, month, day, nil
}

// ParseTimeOfDay parses an HH:MM:SS schedule time, where HH may be 24 or
// greater to denote a post-midnight occurrence relative to the service
// date. It returns the total number of seconds since the start of the
// service date.
func ParseTimeOfDay(hhmmss string) (int, error) {
	parts := strings.Split(hhmmss, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("gtfstime: invalid time %q: want HH:MM:SS", hhmmss)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("gtfstime: invalid time %q: %w", hhmmss, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("gtfstime: invalid time %q: bad minutes", hhmmss)
	}
	s, err := strconv.Atoi(parts[2])
	if err != nil || s < 0 || s > 59 {
		return 0, fmt.Errorf("gtfstime: invalid time %q: bad seconds", hhmmss)
	}
	if h < 0 {
		return 0, fmt.Errorf("gtfstime: invalid time %q: negative hour", hhmmss)
	}
	return h*3600 + m*60 + s, nil
}

// ParseInstant combines a YYYYMMDD service date and an HH:MM:SS schedule
// time (hour may be >= 24) in the given location into an absolute instant.
func ParseInstant(yyyymmdd, hhmmss string, loc *time.Location) (time.Time, error) {
	year, month, day, err := ParseDate(yyyymmdd)
	if err != nil {
		return time.Time{}, err
	}
	secs, err := ParseTimeOfDay(hhmmss)
	if err != nil {
		return time.Time{}, err
	}
	base := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	return base.Add(time.Duration(secs) * time.Second), nil
}

// Weekday returns the stdlib time.Weekday (Sunday=0 ... Saturday=6) for the
// given YYYYMMDD date interpreted as a plain calendar date (no timezone
// attached — GTFS calendar comparisons are date-only). Callers map this to
// whichever of Calendar's seven boolean columns corresponds.
func Weekday(yyyymmdd string) (time.Weekday, error) {
	year, month, day, err := ParseDate(yyyymmdd)
	if err != nil {
		return 0, err
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Weekday(), nil
}

// AddDays returns the YYYYMMDD date `n` days after yyyymmdd.
func AddDays(yyyymmdd string, n int) (string, error) {
	year, month, day, err := ParseDate(yyyymmdd)
	if err != nil {
		return "", err
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
	return t.Format("20060102"), nil
}

// Today returns the current date, as seen from loc, formatted YYYYMMDD.
func Today(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("20060102")
}

// Compare returns -1, 0, or 1 according to whether a < b, a == b, a > b,
// for two YYYYMMDD strings (plain lexicographic comparison suffices since
// the encoding is fixed-width and zero-padded).
func Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
