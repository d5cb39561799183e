// Package resolver works out which calendar days a ticker still needs.
package resolver

import (
	"time"

	"ohlcvsync/models"
)

// Resolver computes sync windows. It never reads the clock; callers pass
// today explicitly.
type Resolver struct {
	lookbackYears int
}

func New(lookbackYears int) *Resolver {
	if lookbackYears <= 0 {
		lookbackYears = 2
	}
	return &Resolver{lookbackYears: lookbackYears}
}

// EndDate is the last day worth requesting: yesterday, except that a weekend
// today falls back to the preceding Friday.
func EndDate(today time.Time) time.Time {
	today = models.DateOf(today)
	switch today.Weekday() {
	case time.Saturday:
		return today.AddDate(0, 0, -1)
	case time.Sunday:
		return today.AddDate(0, 0, -2)
	default:
		return today.AddDate(0, 0, -1)
	}
}

// Resolve returns the window for entityID. lastStored is the latest date
// already in the warehouse, nil when the ticker has never been loaded. The
// boolean is false when the ticker is already up to date.
func (r *Resolver) Resolve(entityID string, lastStored *time.Time, today time.Time) (models.SyncWindow, bool) {
	today = models.DateOf(today)

	var start time.Time
	if lastStored == nil {
		start = today.AddDate(-r.lookbackYears, 0, 0)
	} else {
		start = models.DateOf(*lastStored).AddDate(0, 0, 1)
	}

	return models.NewSyncWindow(entityID, start, EndDate(today))
}
