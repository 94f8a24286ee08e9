// Package cron evaluates zone schedules written as five-field (minute first)
// or six-field (seconds first) cron expressions, plus descriptors like @daily.
package cron

import (
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"
)

var parser = robfig.NewParser(
	robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// ScheduleError reports an expression that cannot be used for scheduling.
type ScheduleError struct {
	Schedule string
	Err      error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("schedule %q: %v", e.Schedule, e.Err)
}

func (e *ScheduleError) Unwrap() error {
	return e.Err
}

// Evaluator computes fire times in a fixed location. It keeps no state
// between calls.
type Evaluator struct {
	loc *time.Location
}

// New returns an evaluator interpreting expressions in loc. A nil loc means UTC.
func New(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{loc: loc}
}

// Validate parses schedule without evaluating it.
func Validate(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return &ScheduleError{Schedule: schedule, Err: err}
	}
	return nil
}

// Next returns the first matching time strictly after the given instant.
func (e *Evaluator) Next(schedule string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(schedule)
	if err != nil {
		return time.Time{}, &ScheduleError{Schedule: schedule, Err: err}
	}
	next := sched.Next(after.In(e.loc))
	if next.IsZero() {
		return time.Time{}, &ScheduleError{Schedule: schedule, Err: fmt.Errorf("no matching time after %s", after.UTC().Format(time.RFC3339))}
	}
	return next, nil
}
