package clock

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// ShiftBoundaryHour is the local hour before which activity belongs to the previous day's shift.
const ShiftBoundaryHour = 6

// DefaultTimezone is used when no TIMEZONE is configured
const DefaultTimezone = "Asia/Bangkok"

// Clock returns the current time in a single, process-wide timezone
type Clock struct {
	clk clockwork.Clock
	loc *time.Location
}

// New creates a clock reading from clk and reporting times in loc
func New(clk clockwork.Clock, loc *time.Location) *Clock {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{clk: clk, loc: loc}
}

// NewReal creates a wall clock for the named timezone
func NewReal(timezone string) (*Clock, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return New(clockwork.NewRealClock(), loc), nil
}

// LoadLocation resolves a timezone name, falling back to DefaultTimezone when empty
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	return loc, nil
}

// Now returns the current instant in the configured timezone
func (c *Clock) Now() time.Time {
	return c.clk.Now().In(c.loc)
}

// Location returns the configured timezone
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Underlying exposes the clockwork clock, used by timer-driven components
func (c *Clock) Underlying() clockwork.Clock {
	return c.clk
}

// ShiftDate returns the logical shift date for the current instant
func (c *Clock) ShiftDate() time.Time {
	return ShiftDateOf(c.Now())
}

// ShiftDateOf returns midnight of the shift date t belongs to.
// Before ShiftBoundaryHour the previous calendar day is returned.
func ShiftDateOf(t time.Time) time.Time {
	if t.Hour() < ShiftBoundaryHour {
		t = t.AddDate(0, 0, -1)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// At returns t's calendar date at hour:minute in t's location
func At(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

// NextMidnight returns 00:00 of the calendar day after t
func NextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}
