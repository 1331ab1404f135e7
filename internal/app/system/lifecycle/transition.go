package lifecycle

import (
	"time"

	"github.com/dalemusser/stratacohort/internal/domain/models"
)

// ComputeTransition returns the status c should move to on the calendar day
// of today, if any. It never advances more than one step, never enters or
// leaves cancelled, and does nothing when the date it needs is unset.
//
// today is read in its own location; StartDate and EndDate are calendar
// dates stored at UTC midnight.
func ComputeTransition(c models.Cohort, today time.Time) (models.CohortStatus, bool) {
	switch c.Status {
	case models.CohortUpcoming:
		if c.StartDate != nil && onOrAfter(today, *c.StartDate) {
			return models.CohortOngoing, true
		}
	case models.CohortOngoing:
		if c.EndDate != nil && onOrAfter(today, *c.EndDate) {
			return models.CohortCompleted, true
		}
	}
	return "", false
}

// onOrAfter reports whether the civil day of today is on or after the
// calendar date d.
func onOrAfter(today, d time.Time) bool {
	return !civilDay(today).Before(dateOnly(d))
}

// civilDay maps t to midnight UTC of the same wall-clock date in t's location.
func civilDay(t time.Time) time.Time {
	y, m, dd := t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

// dateOnly truncates a stored calendar date to midnight UTC.
func dateOnly(d time.Time) time.Time {
	y, m, dd := d.UTC().Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}
