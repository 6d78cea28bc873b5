// Package schedule converts user-local booking inputs into canonical UTC
// intervals and detects overlaps between them.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	timeLayoutSeconds = "15:04:05"
)

var (
	ErrInvalidDateTime = errors.New("invalid date or time")
	ErrInvalidTimeZone = errors.New("invalid time zone")
	ErrInvalidDuration = errors.New("duration must be positive")
)

// Interval is a half-open range [Start, End) in UTC.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the two intervals share any instant. Touching
// intervals do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// Normalize interprets date and timeOfDay as wall-clock time in zone and
// returns the canonical interval covering durationHours from that instant.
// Wall-clock times inside a DST gap resolve the way time.Date does.
func Normalize(date, timeOfDay, zone string, durationHours float64) (Interval, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return Interval{}, err
	}

	d, err := HoursToDuration(durationHours)
	if err != nil {
		return Interval{}, err
	}

	day, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return Interval{}, fmt.Errorf("%w: date %q", ErrInvalidDateTime, date)
	}

	clock, err := parseClock(strings.TrimSpace(timeOfDay))
	if err != nil {
		return Interval{}, fmt.Errorf("%w: time %q", ErrInvalidDateTime, timeOfDay)
	}

	start := time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, loc).UTC()

	return Interval{Start: start, End: start.Add(d)}, nil
}

// LoadZone resolves an IANA zone name. Empty names are rejected rather than
// silently treated as UTC.
func LoadZone(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTimeZone)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeZone, zone)
	}
	return loc, nil
}

// HoursToDuration converts fractional hours, rounded to the second.
func HoursToDuration(hours float64) (time.Duration, error) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours <= 0 {
		return 0, ErrInvalidDuration
	}
	secs := math.Round(hours * 3600)
	if secs < 1 {
		return 0, ErrInvalidDuration
	}
	return time.Duration(secs) * time.Second, nil
}

// IsDate reports whether s is a valid YYYY-MM-DD calendar date.
func IsDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// CanonicalClock rewrites a parsed time of day as zero-padded HH:MM, or
// HH:MM:SS when seconds are set, so stored times sort as strings.
func CanonicalClock(timeOfDay string) (string, error) {
	clock, err := parseClock(strings.TrimSpace(timeOfDay))
	if err != nil {
		return "", fmt.Errorf("%w: time %q", ErrInvalidDateTime, timeOfDay)
	}
	if clock.Second() != 0 {
		return clock.Format(timeLayoutSeconds), nil
	}
	return clock.Format(TimeLayout), nil
}

func parseClock(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(timeLayoutSeconds, s)
}
