package models

import "time"

// LogEntry is one cleaning record as stored by the remote logbook.
// JSON keys follow the remote spreadsheet columns.
type LogEntry struct {
	SystemTimestamp string `json:"waktuSistem"`
	MachineID       string `json:"nomorMesin"`
	OperatorName    string `json:"namaOperator"`
	CleaningDate    string `json:"tanggalCleaning"`
}

// DerivedLogEntry is a LogEntry with its computed audit status
type DerivedLogEntry struct {
	LogEntry

	// CleaningDay is the parsed CleaningDate
	CleaningDay    time.Time `json:"-"`
	NextTargetDate time.Time `json:"nextTargetDate"`
	OperatorLate   bool      `json:"operatorLate"`
	TargetMissed   bool      `json:"targetMissed"`
}

// MachineSummary describes the most recent cleaning of one machine
type MachineSummary struct {
	MachineID        string    `json:"machineId"`
	Entries          int       `json:"entries"`
	LateEntries      int       `json:"lateEntries"`
	LastCleaningDate time.Time `json:"lastCleaningDate"`
	LastOperator     string    `json:"lastOperator"`
	NextTargetDate   time.Time `json:"nextTargetDate"`
	Overdue          bool      `json:"overdue"`
}

// ApiResponse is the envelope used by the remote script endpoint
type ApiResponse struct {
	Status  string     `json:"status"`
	Data    []LogEntry `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
}

// Remote response status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
