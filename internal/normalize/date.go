package normalize

import (
	"strconv"
	"strings"
	"time"
)

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// ReconstructDate rebuilds a calendar instant from the structured components
// a date input splits into: <name>-day, <name>-month, <name>-year and the
// optional <name>-time ("15:04"). It returns nil when no component was
// submitted, and a ValidationError when the components do not form a real
// date or the instant lies in the future.
func ReconstructDate(name string, raw Raw, now time.Time) (*time.Time, error) {
	dayStr := first(raw[name+"-day"])
	monthStr := first(raw[name+"-month"])
	yearStr := first(raw[name+"-year"])
	timeStr := first(raw[name+"-time"])

	if dayStr == "" && monthStr == "" && yearStr == "" {
		return nil, nil
	}
	if dayStr == "" || monthStr == "" || yearStr == "" {
		return nil, fieldError(name, "incomplete date")
	}

	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return nil, fieldError(name, "day is not a number")
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return nil, fieldError(name, "year is not a number")
	}
	month, ok := parseMonth(monthStr)
	if !ok {
		return nil, fieldError(name, "unrecognized month")
	}

	hour, minute := 0, 0
	hasTime := timeStr != ""
	if hasTime {
		parts := strings.SplitN(timeStr, ":", 2)
		if len(parts) != 2 {
			return nil, fieldError(name, "time must be HH:MM")
		}
		if hour, err = strconv.Atoi(parts[0]); err != nil || hour < 0 || hour > 23 {
			return nil, fieldError(name, "time must be HH:MM")
		}
		if minute, err = strconv.Atoi(parts[1]); err != nil || minute < 0 || minute > 59 {
			return nil, fieldError(name, "time must be HH:MM")
		}
	}

	ts := time.Date(year, month, day, hour, minute, 0, 0, now.Location())
	// time.Date normalizes out-of-range components (day 32 rolls into the
	// next month); round-trip the fields to detect that.
	if ts.Year() != year || ts.Month() != month || ts.Day() != day {
		return nil, fieldError(name, "not a real date")
	}
	if ts.After(now) {
		return nil, fieldError(name, "date is in the future")
	}
	return &ts, nil
}

// FormatDate renders a reconstructed instant for the normalized document.
func FormatDate(ts time.Time, withTime bool) string {
	if withTime {
		return ts.Format("2 Jan 2006 15:04")
	}
	return ts.Format("2 Jan 2006")
}

func parseMonth(s string) (time.Month, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		if m, ok := monthNames[s[:3]]; ok {
			return m, true
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 12 {
		return time.Month(n), true
	}
	return 0, false
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func fieldError(name, msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Name: name, Message: msg}}}
}
