package emr

import (
	"fmt"
	"time"
)

// dateLayout is the calendar-date form accepted for period boundaries.
const dateLayout = "2006-01-02"

// Period is a reporting period. Start is the first instant of the start day
// and End the last second of the end day, so range filters are inclusive of
// [start 00:00:00, end 23:59:59].
type Period struct {
	Start time.Time
	End   time.Time
}

// InvalidPeriodError reports a period boundary that failed to parse or a
// start/end pair out of order. Metric computations fail with this error
// instead of continuing with a missing date constraint.
type InvalidPeriodError struct {
	Input  string
	Reason string
}

func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("invalid period %q: %s", e.Input, e.Reason)
}

// ParsePeriod parses two calendar dates into an inclusive datetime range.
func ParsePeriod(start, end string) (Period, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return Period{}, &InvalidPeriodError{Input: start, Reason: "want YYYY-MM-DD"}
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return Period{}, &InvalidPeriodError{Input: end, Reason: "want YYYY-MM-DD"}
	}
	if e.Before(s) {
		return Period{}, &InvalidPeriodError{Input: start + ".." + end, Reason: "end before start"}
	}
	return Period{
		Start: s,
		End:   e.Add(23*time.Hour + 59*time.Minute + 59*time.Second),
	}, nil
}

// Contains reports whether t falls inside the period, boundaries included.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// AgeFilter is a structured age constraint, replacing the freeform comparator
// fragment of the legacy reports. Op must be one of the whitelisted operators;
// the value is always bound as a query parameter.
type AgeFilter struct {
	Op    string
	Years int
}

var validAgeOps = map[string]bool{
	">=": true,
	">":  true,
	"<=": true,
	"<":  true,
	"=":  true,
}

// Validate checks the operator against the whitelist. The operator is spliced
// into SQL text, so nothing outside this set may pass.
func (f AgeFilter) Validate() error {
	if !validAgeOps[f.Op] {
		return fmt.Errorf("invalid age operator %q", f.Op)
	}
	if f.Years < 0 || f.Years > 150 {
		return fmt.Errorf("age out of range: %d", f.Years)
	}
	return nil
}

// Matches reports whether the given age satisfies the filter.
func (f AgeFilter) Matches(years int) bool {
	switch f.Op {
	case ">=":
		return years >= f.Years
	case ">":
		return years > f.Years
	case "<=":
		return years <= f.Years
	case "<":
		return years < f.Years
	case "=":
		return years == f.Years
	}
	return false
}

// AgeAt computes completed years between birthdate and the reference time.
func AgeAt(birthdate, at time.Time) int {
	years := at.Year() - birthdate.Year()
	anniversary := birthdate.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	return years
}
