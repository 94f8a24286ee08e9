package logic

import "fmt"

// Source says what caused a zone transition.
type Source string

const (
	SourceSchedule Source = "schedule"
	SourceAdHoc    Source = "adhoc"
	SourceSafety   Source = "safety" // overdue or forced stop
)

// DiscardReason explains why a pending start was dropped.
type DiscardReason string

const (
	DiscardStale       DiscardReason = "stale"
	DiscardDisabled    DiscardReason = "disabled"
	DiscardUnknownZone DiscardReason = "unknown_zone"
)

// Transition is a zone that changed state. Zone holds the values after the change.
type Transition struct {
	Zone   Zone
	On     bool
	Source Source
}

// ScheduleFailure records a zone whose cron expression could not be evaluated.
type ScheduleFailure struct {
	ZoneID int
	Err    error
}

// Result lists the side effects a caller must carry out after an engine
// operation, in order: actuate and report Transitions, report Reports and
// mode/enabled changes, publish Logs, then persist if Persist is set.
type Result struct {
	Transitions    []Transition
	Reports        []Zone // state republish without a transition
	ModeChanged    bool
	EnabledChanged bool
	Discarded      []DiscardReason
	ScheduleErrors []ScheduleFailure
	Logs           []string
	Persist        bool
}

// Merge appends o's effects after r's.
func (r *Result) Merge(o Result) {
	r.Transitions = append(r.Transitions, o.Transitions...)
	r.Reports = append(r.Reports, o.Reports...)
	r.ModeChanged = r.ModeChanged || o.ModeChanged
	r.EnabledChanged = r.EnabledChanged || o.EnabledChanged
	r.Discarded = append(r.Discarded, o.Discarded...)
	r.ScheduleErrors = append(r.ScheduleErrors, o.ScheduleErrors...)
	r.Logs = append(r.Logs, o.Logs...)
	r.Persist = r.Persist || o.Persist
}

// Empty reports whether the result carries no effects at all.
func (r Result) Empty() bool {
	return len(r.Transitions) == 0 && len(r.Reports) == 0 && !r.ModeChanged && !r.EnabledChanged &&
		len(r.Discarded) == 0 && len(r.ScheduleErrors) == 0 && len(r.Logs) == 0 && !r.Persist
}

func (r *Result) logf(format string, args ...any) {
	r.Logs = append(r.Logs, fmt.Sprintf(format, args...))
}

func (r *Result) discard(reason DiscardReason, format string, args ...any) {
	r.Discarded = append(r.Discarded, reason)
	r.logf(format, args...)
}
