package logic

import "time"

// Evaluator computes the next time a cron expression fires strictly after
// the given instant. Implementations must be pure.
type Evaluator interface {
	Next(schedule string, after time.Time) (time.Time, error)
}

// Tolerance is the window around a scheduled start in which it may execute.
type Tolerance struct {
	Early time.Duration
	Late  time.Duration
}

// DefaultTolerance returns the 30s/30s window.
func DefaultTolerance() Tolerance {
	return Tolerance{Early: DefaultEarlyTolerance, Late: DefaultLateTolerance}
}

// Engine applies scheduling decisions and commands to a State.
// Not safe for concurrent use; the controller drives it from a single loop.
type Engine struct {
	state *State
	cron  Evaluator
	tol   Tolerance
}

// NewEngine creates an engine operating on state.
func NewEngine(state *State, cron Evaluator, tol Tolerance) *Engine {
	return &Engine{state: state, cron: cron, tol: tol}
}

// State returns the live state the engine mutates.
func (e *Engine) State() *State {
	return e.state
}

// StartDue reports whether the pending event is a start inside its execution
// window at now. Recomputing then would lose it: the evaluator only yields
// fire times after now.
func (e *Engine) StartDue(now time.Time) bool {
	ev := e.state.Pending
	if ev.Type != EventStart {
		return false
	}
	return !now.Before(ev.FireAt.Add(-e.tol.Early)) && !now.After(ev.FireAt.Add(e.tol.Late))
}

// ComputeNextEvent scans the zones in id order and stores the earliest
// upcoming start or stop as the pending event. On a tie the lower id wins.
// Zones whose cron expression fails to evaluate are skipped for this pass.
func (e *Engine) ComputeNextEvent(now time.Time) (PendingEvent, Result) {
	var res Result
	next := NoEvent

	for _, z := range e.state.Zones.zones {
		var cand PendingEvent
		switch {
		case z.Active:
			cand = PendingEvent{ZoneID: z.ID, Type: EventStop, FireAt: z.StopsAt()}
		case z.Cron != "":
			at, err := e.cron.Next(z.Cron, now)
			if err != nil {
				res.ScheduleErrors = append(res.ScheduleErrors, ScheduleFailure{ZoneID: z.ID, Err: err})
				res.logf("Zone %d has an unusable schedule, skipping it: %v", z.ID, err)
				continue
			}
			cand = PendingEvent{ZoneID: z.ID, Type: EventStart, FireAt: stamp(at), Duration: z.Duration}
		default:
			continue
		}

		if next.IsNone() || cand.FireAt.Before(next.FireAt) {
			next = cand
		}
	}

	e.state.Pending = next
	res.Persist = true
	return next, res
}
