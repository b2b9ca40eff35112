// Package timefmt renders instants and durations the way the mobile client
// displays them: a fixed +05:30 regional clock and human readable durations.
package timefmt

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// NotAvailable is rendered for absent instants.
	NotAvailable = "N/A"
	// RegionalLabel is appended to every regional string.
	RegionalLabel = "IST"

	regionalLayout = "02-01-2006 03:04:05 PM"
	regionalOffset = 5*60*60 + 30*60

	// floating point guard for whole-unit extraction, e.g. 4.35 minutes * 60
	floorEpsilon = 1e-9
)

var regionalZone = time.FixedZone(RegionalLabel, regionalOffset)

// RegionalZone returns the fixed +05:30 location used for display strings.
func RegionalZone() *time.Location {
	return regionalZone
}

// RegionalStringOf formats t as "DD-MM-YYYY hh:mm:ss AM|PM IST".
func RegionalStringOf(t time.Time) string {
	if t.IsZero() {
		return NotAvailable
	}
	return t.In(regionalZone).Format(regionalLayout) + " " + RegionalLabel
}

// RegionalString is RegionalStringOf for optional instants.
func RegionalString(t *time.Time) string {
	if t == nil {
		return NotAvailable
	}
	return RegionalStringOf(*t)
}

// ParseRegional reverses RegionalStringOf. The result is in UTC with second precision.
func ParseRegional(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == NotAvailable {
		return time.Time{}, errors.New("timefmt: regional string is empty")
	}
	value = strings.TrimSpace(strings.TrimSuffix(value, RegionalLabel))
	t, err := time.ParseInLocation(regionalLayout, value, regionalZone)
	if err != nil {
		return time.Time{}, fmt.Errorf("timefmt: parse regional string: %w", err)
	}
	return t.UTC(), nil
}

// ParseTimestamp accepts ISO-8601 instants (with or without fractional seconds
// or zone) and unix epoch milliseconds. The result is always UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("timefmt: timestamp is empty")
	}

	if isDigits(value) {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("timefmt: parse epoch millis: %w", err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timefmt: unsupported timestamp %q", value)
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}

// Unit identifies the unit of a raw duration value.
type Unit int

const (
	Milliseconds Unit = iota
	Seconds
	Minutes
)

func (u Unit) toSeconds(value float64) float64 {
	switch u {
	case Milliseconds:
		return value / 1000
	case Minutes:
		return value * 60
	default:
		return value
	}
}

func (u Unit) zero() string {
	if u == Minutes {
		return "0 minutes"
	}
	return "0 seconds"
}

// FormatDuration renders value as "X minute(s) Y second(s)", omitting zero parts.
// Zero, negative and sub-second values render as "0 minutes" or "0 seconds"
// depending on the unit.
func FormatDuration(value float64, unit Unit) string {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return unit.zero()
	}

	total := int64(math.Floor(unit.toSeconds(value) + floorEpsilon))
	minutes := total / 60
	seconds := total % 60

	parts := make([]string, 0, 2)
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 {
		parts = append(parts, plural(seconds, "second"))
	}
	if len(parts) == 0 {
		return unit.zero()
	}
	return strings.Join(parts, " ")
}

// FormatMillis always renders both parts, e.g. "0 minutes 5 seconds".
func FormatMillis(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	return plural(minutes, "minute") + " " + plural(seconds, "second")
}

// FormatCompact renders "1h 2m 3s", "2m 3s" or "3s".
func FormatCompact(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	total := int64(math.Floor(seconds + floorEpsilon))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatWholeSeconds renders the floor of seconds, e.g. "42 seconds".
func FormatWholeSeconds(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	return plural(int64(math.Floor(seconds+floorEpsilon)), "second")
}

// SecondsBetween returns end-start in seconds rounded to the nearest second.
func SecondsBetween(start, end time.Time) int64 {
	return int64(math.Round(end.Sub(start).Seconds()))
}

// WeekStart returns Monday 00:00:00 of the week containing now, evaluated in loc.
// Sunday belongs to the week that started six days earlier.
func WeekStart(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	offset := int(local.Weekday()) - int(time.Monday)
	if local.Weekday() == time.Sunday {
		offset = 6
	}
	day := local.AddDate(0, 0, -offset)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
