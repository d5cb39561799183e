package models

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// Date returns midnight UTC of the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf drops the clock part of t, keeping the calendar day as seen in t's
// own location, and returns it as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// SyncWindow is the inclusive date range still missing for a ticker.
// Start is never after End.
type SyncWindow struct {
	EntityID string    `json:"ticker"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// NewSyncWindow returns false when start is after end; no window exists then.
func NewSyncWindow(entityID string, start, end time.Time) (SyncWindow, bool) {
	start, end = DateOf(start), DateOf(end)
	if start.After(end) {
		return SyncWindow{}, false
	}
	return SyncWindow{EntityID: entityID, Start: start, End: end}, true
}

// Days counts the calendar days covered, both ends included.
func (w SyncWindow) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

func (w SyncWindow) String() string {
	return fmt.Sprintf("%s [%s, %s]", w.EntityID, w.Start.Format(DateLayout), w.End.Format(DateLayout))
}
