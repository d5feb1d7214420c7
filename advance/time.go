package advance

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of due dates.
const DateLayout = "2006-01-02"

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date. RFC3339 timestamps are accepted and
// truncated to their calendar day.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q (use YYYY-MM-DD)", ErrInvalidArgument, s)
	}
	return TruncateDay(t), nil
}

// TruncateDay drops the clock part of t.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// AddMonths moves t forward n calendar months, clamping to the last day of
// the target month (Jan 31 + 1 month = Feb 28).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return Date(first.Year(), first.Month(), d)
}

func FormatDate(t time.Time) string { return t.Format(DateLayout) }
