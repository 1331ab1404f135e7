// internal/app/system/tasks/cadence.go
package tasks

import (
	"errors"
	"fmt"
	"time"
)

// Default offsets from local midnight for the daily sweeps.
const (
	DefaultStatusOffset     time.Duration = 0
	DefaultWarningOffset    time.Duration = 1 * time.Hour
	DefaultRetirementOffset time.Duration = 2 * time.Hour
)

// Cadence fires every Interval, aligned to Location midnight plus Offset.
// Whole-day intervals step by calendar day and treat Offset as a wall-clock
// time of day, so a daily run stays at local midnight across DST changes.
// Multi-day intervals fire on days whose civil day number is a multiple of
// the interval in days. Sub-day intervals step in elapsed time from midnight.
type Cadence struct {
	Interval time.Duration
	Offset   time.Duration
	Location *time.Location
}

// Daily returns a once-a-day cadence at offset past midnight in loc.
func Daily(offset time.Duration, loc *time.Location) Cadence {
	return Cadence{Interval: 24 * time.Hour, Offset: offset, Location: loc}
}

// Validate rejects a non-positive interval or an offset outside one interval.
func (c Cadence) Validate() error {
	if c.Interval <= 0 {
		return errors.New("cadence interval must be positive")
	}
	if c.Offset < 0 || c.Offset >= c.Interval {
		return fmt.Errorf("cadence offset %s must be within [0, %s)", c.Offset, c.Interval)
	}
	return nil
}

// Next returns the first fire time strictly after now.
func (c Cadence) Next(now time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	iv := c.Interval
	if iv <= 0 {
		iv = 24 * time.Hour
	}

	local := now.In(loc)
	if iv%day == 0 {
		return c.nextCalendar(local, int(iv/day), loc)
	}

	y, m, d := local.Date()
	base := time.Date(y, m, d, 0, 0, 0, 0, loc).Add(c.Offset)

	diff := local.Sub(base)
	k := diff / iv
	if diff < 0 && diff%iv != 0 {
		k--
	}
	return base.Add((k + 1) * iv)
}

const day = 24 * time.Hour

// nextCalendar scans calendar days from a few days back, since a
// multi-day offset can push an earlier day's slot past now.
func (c Cadence) nextCalendar(local time.Time, days int, loc *time.Location) time.Time {
	y, m, d := local.Date()
	secs := int(c.Offset / time.Second)
	nsec := int(c.Offset % time.Second)
	for i := -days; ; i++ {
		if days > 1 && civilDay(y, m, d+i)%int64(days) != 0 {
			continue
		}
		t := time.Date(y, m, d+i, 0, 0, secs, nsec, loc)
		if t.After(local) {
			return t
		}
	}
}

// civilDay counts calendar days since 1970-01-01, ignoring zones.
func civilDay(y int, m time.Month, d int) int64 {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// String renders the cadence for logs and status output.
func (c Cadence) String() string {
	loc := "UTC"
	if c.Location != nil {
		loc = c.Location.String()
	}
	return fmt.Sprintf("every %s at +%s (%s)", c.Interval, c.Offset, loc)
}
