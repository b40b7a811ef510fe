package domain

import (
	"fmt"
	"time"

	"github.com/coder/quartz"
)

// DefaultTimezone is the civil timezone used to bucket history entries.
const DefaultTimezone = "America/Chicago"

const dayLayout = "2006-01-02"

// CalendarDay is a YYYY-MM-DD date in the display timezone.
type CalendarDay string

// DayOf returns the calendar day containing t in loc.
func DayOf(t time.Time, loc *time.Location) CalendarDay {
	if loc == nil {
		loc = time.UTC
	}
	return CalendarDay(t.In(loc).Format(dayLayout))
}

// ParseCalendarDay validates a YYYY-MM-DD string.
func ParseCalendarDay(value string) (CalendarDay, error) {
	if _, err := time.Parse(dayLayout, value); err != nil {
		return "", fmt.Errorf("invalid calendar day %q: %w", value, err)
	}
	return CalendarDay(value), nil
}

// Valid reports whether d is a well-formed YYYY-MM-DD date.
func (d CalendarDay) Valid() bool {
	_, err := time.Parse(dayLayout, string(d))
	return err == nil
}

// Time returns midnight of d in loc.
func (d CalendarDay) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(dayLayout, string(d), loc)
}

// AddDays shifts the day by n calendar days. Invalid days are returned unchanged.
func (d CalendarDay) AddDays(n int) CalendarDay {
	t, err := d.Time(time.UTC)
	if err != nil {
		return d
	}
	return CalendarDay(t.AddDate(0, 0, n).Format(dayLayout))
}

func (d CalendarDay) String() string { return string(d) }

// LoadLocation resolves an IANA timezone name. Binaries embed time/tzdata so this works
// on hosts without a zoneinfo database.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// Calendar derives calendar days from an injectable clock.
type Calendar struct {
	clock quartz.Clock
	loc   *time.Location
}

// NewCalendar constructs a Calendar. A nil clock uses the wall clock and a nil location uses UTC.
func NewCalendar(clock quartz.Clock, loc *time.Location) *Calendar {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{clock: clock, loc: loc}
}

// Now returns the current instant in the display timezone.
func (c *Calendar) Now() time.Time {
	return c.clock.Now("Calendar", "Now").In(c.loc)
}

// Today returns the current calendar day in the display timezone.
func (c *Calendar) Today() CalendarDay {
	return DayOf(c.clock.Now("Calendar", "Today"), c.loc)
}

// Location returns the display timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}
