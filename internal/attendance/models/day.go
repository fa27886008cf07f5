package models

import (
	"time"

	dErrors "rollcall/pkg/domain-errors"
)

const dayLayout = "2006-01-02"

// Day is a calendar date in the school's timezone, formatted YYYY-MM-DD.
type Day string

// DayOf truncates t to its calendar day in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	return Day(t.In(loc).Format(dayLayout))
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "date must be YYYY-MM-DD")
	}
	return Day(t.Format(dayLayout)), nil
}

// Time returns midnight of the day in UTC, for storage as a DATE.
func (d Day) Time() time.Time {
	t, _ := time.Parse(dayLayout, string(d))
	return t
}

func (d Day) String() string { return string(d) }

// AddDays shifts the date by n calendar days.
func (d Day) AddDays(n int) Day {
	return Day(d.Time().AddDate(0, 0, n).Format(dayLayout))
}
