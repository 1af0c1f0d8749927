package audit

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the at-rest format of a cleaning date
const DateLayout = "2006-01-02"

// localLayouts carry no zone and are read in the deriver's location.
var localLayouts = []string{
	DateLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// zonedLayouts carry their own offset, as emitted by spreadsheet JSON.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseCleaningDate parses a cleaning date. Date-only values are midnight in
// loc; zoned values keep their instant but are returned in loc. ok is false
// for blank or unrecognised input.
func ParseCleaningDate(value string, loc *time.Location) (t time.Time, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.In(loc), true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Midnight truncates t to the start of its day in loc
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FormatDisplayDate renders t as dd/mm/yyyy, or "-" for the zero time
func FormatDisplayDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%02d/%02d/%04d", t.Day(), int(t.Month()), t.Year())
}

// FormatISODate renders t as YYYY-MM-DD, or "" for the zero time
func FormatISODate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

var shortMonths = [...]string{"Jan", "Feb", "Mar", "Apr", "Mei", "Jun", "Jul", "Agu", "Sep", "Okt", "Nov", "Des"}

// FormatSystemTimestamp renders the submission time the way the logbook
// sheet records it, e.g. "15 Okt 2026, 14.05".
func FormatSystemTimestamp(t time.Time) string {
	return fmt.Sprintf("%d %s %d, %02d.%02d", t.Day(), shortMonths[t.Month()-1], t.Year(), t.Hour(), t.Minute())
}
