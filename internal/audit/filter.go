package audit

import (
	"sort"
	"strings"

	"github.com/smartdevs17/machine-logger/internal/models"
)

// Status labels shown next to a target date
const (
	LabelOverdue = "OVERDUE"
	LabelOnTrack = "ON TRACK"
)

// StatusLabel returns the label for a target-missed flag
func StatusLabel(targetMissed bool) string {
	if targetMissed {
		return LabelOverdue
	}
	return LabelOnTrack
}

// FilterByMachine keeps entries whose machine id contains query, ignoring case.
// A blank query returns derived unchanged.
func FilterByMachine(derived []models.DerivedLogEntry, query string) []models.DerivedLogEntry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return derived
	}

	filtered := make([]models.DerivedLogEntry, 0, len(derived))
	for _, entry := range derived {
		if strings.Contains(strings.ToLower(entry.MachineID), query) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// Summarize reports the latest cleaning of every machine, sorted by machine key.
// derived must be in the order produced by Derive (most recent first).
func Summarize(derived []models.DerivedLogEntry) []models.MachineSummary {
	index := make(map[string]int)
	var summaries []models.MachineSummary

	for _, entry := range derived {
		key := MachineKey(entry.MachineID)
		i, ok := index[key]
		if !ok {
			i = len(summaries)
			index[key] = i
			summaries = append(summaries, models.MachineSummary{
				MachineID:        key,
				LastCleaningDate: entry.CleaningDay,
				LastOperator:     entry.OperatorName,
				NextTargetDate:   entry.NextTargetDate,
				Overdue:          entry.TargetMissed,
			})
		} else if entry.CleaningDay.Equal(summaries[i].LastCleaningDate) {
			// same-day entries keep group order, so the last one seen is the latest
			summaries[i].LastOperator = entry.OperatorName
			summaries[i].Overdue = entry.TargetMissed
		}

		summaries[i].Entries++
		if entry.OperatorLate {
			summaries[i].LateEntries++
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].MachineID < summaries[j].MachineID
	})
	return summaries
}

// Overdue returns the summaries whose latest target has been missed
func Overdue(summaries []models.MachineSummary) []models.MachineSummary {
	var overdue []models.MachineSummary
	for _, s := range summaries {
		if s.Overdue {
			overdue = append(overdue, s)
		}
	}
	return overdue
}
