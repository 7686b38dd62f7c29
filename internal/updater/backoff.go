package updater

import "time"

// nextFireTime computes the deadline of the next recurring check.
//
// With backoffFactor == 1 the next run is the next occurrence of the daily
// anchor hour/minute. With a larger factor the next run is backoffFactor
// days out, at the same anchor hour/minute, so a recovering device still
// lands in its assigned fleet slot.
func nextFireTime(backoffFactor, anchorHour, anchorMinute int, now time.Time) time.Time {
	if backoffFactor <= 1 {
		next := time.Date(now.Year(), now.Month(), now.Day(), anchorHour, anchorMinute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}

	day := now.AddDate(0, 0, backoffFactor)
	return time.Date(day.Year(), day.Month(), day.Day(), anchorHour, anchorMinute, 0, 0, day.Location())
}
