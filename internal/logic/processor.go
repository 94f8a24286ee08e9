package logic

import "time"

// ReconcileOverdueZones stops every active zone whose run length has elapsed,
// or every active zone when force is set. Safe to call repeatedly.
func (e *Engine) ReconcileOverdueZones(now time.Time, force bool) Result {
	var res Result
	for i := range e.state.Zones.zones {
		z := &e.state.Zones.zones[i]
		if !z.Active {
			continue
		}
		if force || now.Sub(z.StartedAt) >= z.ActiveDuration {
			e.deactivate(z, SourceSafety, &res)
		}
	}
	return res
}

// ProcessPendingEvent executes the pending event if it is due.
//
// Overdue zones are always stopped first. Stop events need nothing else.
// A start event runs only inside [FireAt-Early, FireAt+Late] and while
// scheduling is enabled; a start outside the late edge, or one that arrives
// while disabled, is dropped. A start before the early edge is left pending.
func (e *Engine) ProcessPendingEvent(now time.Time) Result {
	res := e.ReconcileOverdueZones(now, false)

	ev := e.state.Pending
	if ev.Type != EventStart {
		return res
	}

	switch {
	case now.After(ev.FireAt.Add(e.tol.Late)):
		res.discard(DiscardStale, "Scheduled START event out-of-sync with the system time. Scheduled: '%d' vs Now: '%d'. Skipping event!",
			ev.FireAt.Unix(), now.Unix())
		e.clearPending(&res)

	case now.Before(ev.FireAt.Add(-e.tol.Early)):
		res.logf("Nothing to do... let's go back to sleep!")

	case !e.state.Enabled:
		res.discard(DiscardDisabled, "Skipping zone %d START event since the system is disabled.", ev.ZoneID)
		e.clearPending(&res)

	default:
		z, ok := e.state.Zones.ByID(ev.ZoneID)
		if !ok {
			res.discard(DiscardUnknownZone, "Skipping START event for unknown zone %d.", ev.ZoneID)
			e.clearPending(&res)
			return res
		}
		res.Merge(e.ReconcileOverdueZones(now, true))
		e.activate(z, now, ev.Duration, SourceSchedule, &res)
		e.clearPending(&res)
	}

	return res
}

func (e *Engine) activate(z *Zone, now time.Time, d time.Duration, src Source, res *Result) {
	z.Active = true
	z.StartedAt = stamp(now)
	z.ActiveDuration = ClampDuration(d)
	res.Transitions = append(res.Transitions, Transition{Zone: *z, On: true, Source: src})
	res.Persist = true
}

func (e *Engine) deactivate(z *Zone, src Source, res *Result) {
	z.Active = false
	z.StartedAt = time.Time{}
	res.Transitions = append(res.Transitions, Transition{Zone: *z, On: false, Source: src})
	res.Persist = true
}

func (e *Engine) clearPending(res *Result) {
	e.state.Pending = NoEvent
	res.Persist = true
}
