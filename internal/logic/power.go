package logic

import "time"

// NextSleepDuration returns how long a background-mode device may sleep
// before it must wake for ev. Without a future event it sleeps the full
// ceiling and re-evaluates on wake.
func NextSleepDuration(now time.Time, ev PendingEvent, ceiling time.Duration) time.Duration {
	d := ceiling
	if !ev.IsNone() && ev.FireAt.After(now) {
		d = ev.FireAt.Sub(now)
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
