package audit

import (
	"sort"
	"strings"
	"time"

	"github.com/smartdevs17/machine-logger/internal/models"
)

// TargetIntervalDays is the maintenance interval between two cleanings
const TargetIntervalDays = 30

// Deriver computes audit status relative to the current day
type Deriver struct {
	now func() time.Time
	loc *time.Location
}

// NewDeriver creates a deriver reading the clock in loc (time.Local if nil)
func NewDeriver(loc *time.Location) *Deriver {
	if loc == nil {
		loc = time.Local
	}
	return &Deriver{now: time.Now, loc: loc}
}

// WithClock returns a copy of d that reads the current time from now
func (d *Deriver) WithClock(now func() time.Time) *Deriver {
	return &Deriver{now: now, loc: d.loc}
}

// Location returns the location used for date-only values and "today"
func (d *Deriver) Location() *time.Location {
	return d.loc
}

// Today returns local midnight of the current day
func (d *Deriver) Today() time.Time {
	return Midnight(d.now(), d.loc)
}

// Derive computes the status of every entry against today
func (d *Deriver) Derive(entries []models.LogEntry) []models.DerivedLogEntry {
	return derive(entries, d.Today(), d.loc)
}

// Derive computes the status of every entry with a fixed reference day.
// today is truncated to midnight in its own location.
func Derive(entries []models.LogEntry, today time.Time) []models.DerivedLogEntry {
	loc := today.Location()
	return derive(entries, Midnight(today, loc), loc)
}

// NextTarget returns the cleaning deadline implied by a cleaning on day
func NextTarget(day time.Time) time.Time {
	return day.AddDate(0, 0, TargetIntervalDays)
}

// MachineKey is the case-insensitive grouping key of a machine id
func MachineKey(machineID string) string {
	return strings.ToUpper(machineID)
}

type datedEntry struct {
	entry models.LogEntry
	day   time.Time
}

func derive(entries []models.LogEntry, today time.Time, loc *time.Location) []models.DerivedLogEntry {
	var order []string
	groups := make(map[string][]datedEntry)

	for _, entry := range entries {
		day, ok := ParseCleaningDate(entry.CleaningDate, loc)
		if !ok {
			continue
		}

		key := MachineKey(entry.MachineID)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], datedEntry{entry: entry, day: day})
	}

	derived := make([]models.DerivedLogEntry, 0, len(entries))
	for _, key := range order {
		derived = append(derived, deriveGroup(groups[key], today)...)
	}

	sort.SliceStable(derived, func(i, j int) bool {
		return derived[i].CleaningDay.After(derived[j].CleaningDay)
	})
	return derived
}

// deriveGroup evaluates one machine's entries; group is reordered in place.
func deriveGroup(group []datedEntry, today time.Time) []models.DerivedLogEntry {
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].day.Before(group[j].day)
	})

	out := make([]models.DerivedLogEntry, len(group))
	for i, current := range group {
		target := NextTarget(current.day)

		late := i > 0 && current.day.After(NextTarget(group[i-1].day))

		var missed bool
		if i < len(group)-1 {
			missed = group[i+1].day.After(target)
		} else {
			missed = today.After(target)
		}

		out[i] = models.DerivedLogEntry{
			LogEntry:       current.entry,
			CleaningDay:    current.day,
			NextTargetDate: target,
			OperatorLate:   late,
			TargetMissed:   missed,
		}
	}
	return out
}
