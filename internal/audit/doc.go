// Package audit derives the cleaning status of every logbook entry.
//
// Entries are grouped per machine (case-insensitively), ordered by cleaning
// date and compared against the fixed 30-day maintenance interval: an entry
// is late when it was cleaned after the target implied by its predecessor,
// and its own target is missed when the next cleaning, or today for the most
// recent entry, falls after it.
package audit
