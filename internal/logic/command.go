package logic

import (
	"fmt"
	"time"
)

// Command is an externally delivered control request, already decoded by the
// transport. The concrete types below are the only implementations.
type Command interface {
	command()
}

// StartZone runs a zone ad hoc. A zero Duration means the configured duration.
type StartZone struct {
	ZoneID   int
	Duration time.Duration
}

// StopZone stops a zone unconditionally.
type StopZone struct {
	ZoneID int
}

// QueryZone asks for the zone's current state to be reported.
type QueryZone struct {
	ZoneID int
}

// ConfigureZone replaces a zone's schedule and configured duration.
type ConfigureZone struct {
	ZoneID   int
	Cron     string
	Duration time.Duration
}

// SetEnabled toggles the global schedule kill-switch.
type SetEnabled struct {
	Enabled bool
}

// SetMode switches between background and interactive operation.
type SetMode struct {
	Mode DeviceMode
}

func (StartZone) command()     {}
func (StopZone) command()      {}
func (QueryZone) command()     {}
func (ConfigureZone) command() {}
func (SetEnabled) command()    {}
func (SetMode) command()       {}

// Apply executes a command. Commands addressing an unknown zone are ignored.
// Start, stop and query are honoured only in interactive mode.
func (e *Engine) Apply(cmd Command, now time.Time) (Result, error) {
	var res Result

	switch c := cmd.(type) {
	case StartZone:
		z, ok := e.interactiveZone(c.ZoneID, "start", &res)
		if !ok {
			return res, nil
		}
		d := c.Duration
		if d <= 0 {
			d = z.Duration
		}
		res.Merge(e.ReconcileOverdueZones(now, true))
		e.activate(z, now, d, SourceAdHoc, &res)

	case StopZone:
		z, ok := e.interactiveZone(c.ZoneID, "stop", &res)
		if !ok {
			return res, nil
		}
		e.deactivate(z, SourceAdHoc, &res)

	case QueryZone:
		z, ok := e.interactiveZone(c.ZoneID, "query", &res)
		if !ok {
			return res, nil
		}
		res.Reports = append(res.Reports, *z)

	case ConfigureZone:
		z, ok := e.state.Zones.ByID(c.ZoneID)
		if !ok {
			return res, nil
		}
		if len(c.Cron) > MaxCronLength {
			return res, &ConfigError{Payload: c.Cron, Reason: fmt.Sprintf("cron expression longer than %d bytes", MaxCronLength)}
		}
		z.Cron = c.Cron
		z.Duration = ClampDuration(c.Duration)
		res.Persist = true

	case SetEnabled:
		e.state.Enabled = c.Enabled
		res.EnabledChanged = true
		res.Persist = true

	case SetMode:
		e.state.Mode = c.Mode
		res.ModeChanged = true
		res.Persist = true

	default:
		return res, fmt.Errorf("unsupported command %T", cmd)
	}

	return res, nil
}

func (e *Engine) interactiveZone(id int, op string, res *Result) (*Zone, bool) {
	z, ok := e.state.Zones.ByID(id)
	if !ok {
		return nil, false
	}
	if e.state.Mode != ModeInteractive {
		res.logf("Ignoring %s request for zone %d outside interactive mode.", op, id)
		return nil, false
	}
	return z, true
}
