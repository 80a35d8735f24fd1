package risk

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// parseDate accepts a calendar date or an RFC 3339 timestamp. Empty input is absent, not an error.
func parseDate(field, s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, invalid(field, "%q is not an ISO 8601 date", s)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true, nil
}

// MonthsBetween counts whole calendar months from start to end, truncating
// any partial month. 2023-01-31 to 2023-02-28 is 0 months.
func MonthsBetween(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	months := (ey-sy)*12 + int(em-sm)
	if ed < sd {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
