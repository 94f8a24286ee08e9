// Package controller runs processing passes of the scheduling engine and
// carries out their effects: valve pulses, status publishes, metrics and
// persistence. It is not safe for concurrent use; one goroutine owns it.
package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/gpio"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/metrics"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/mqtt"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/status"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/store"
)

// Deps are the collaborators a controller drives.
type Deps struct {
	Store     store.Store
	Publisher mqtt.Publisher
	Actuator  gpio.Actuator
	Metrics   *metrics.Metrics
	Tracker   *status.Tracker
	Cron      logic.Evaluator
	Log       zerolog.Logger

	Tolerance logic.Tolerance
	MaxSleep  time.Duration
}

// Controller owns the engine and its side effects.
type Controller struct {
	engine   *logic.Engine
	store    store.Store
	pub      mqtt.Publisher
	act      gpio.Actuator
	metrics  *metrics.Metrics
	tracker  *status.Tracker
	log      zerolog.Logger
	maxSleep time.Duration
}

// Restore loads the persisted state, falling back to defaults when nothing
// valid is stored or the stored zone set no longer matches the configuration.
// Pins always come from defaults; a stored schedule wins over the configured
// one and the difference is logged. It reports whether a snapshot was used.
func Restore(s store.Store, defaults []logic.Zone, log zerolog.Logger) (*logic.State, bool, error) {
	fresh, err := logic.NewState(defaults)
	if err != nil {
		return nil, false, fmt.Errorf("default zones: %w", err)
	}

	st, err := s.Load()
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Info().Err(err).Msg("no snapshot, using defaults")
		return fresh, false, nil
	case err != nil:
		log.Error().Err(err).Msg("snapshot unreadable, using defaults")
		return fresh, false, nil
	}

	if st.Zones.Len() != fresh.Zones.Len() {
		log.Warn().Int("stored", st.Zones.Len()).Int("configured", fresh.Zones.Len()).
			Msg("zone count changed, discarding snapshot")
		return fresh, false, nil
	}
	for _, d := range fresh.Zones.Zones() {
		z, _ := st.Zones.ByID(d.ID)
		z.Pin = d.Pin
		if z.Cron != d.Cron || z.Duration != d.Duration {
			log.Info().Int("zone", z.ID).Str("cron", z.Cron).Dur("duration", z.Duration).
				Str("config_cron", d.Cron).Dur("config_duration", d.Duration).
				Msg("stored schedule overrides config file")
		}
	}
	return st, true, nil
}

// New wires a controller around st.
func New(d Deps, st *logic.State) *Controller {
	maxSleep := d.MaxSleep
	if maxSleep <= 0 {
		maxSleep = logic.DefaultMaxSleep
	}
	c := &Controller{
		engine:   logic.NewEngine(st, d.Cron, d.Tolerance),
		store:    d.Store,
		pub:      d.Publisher,
		act:      d.Actuator,
		metrics:  d.Metrics,
		tracker:  d.Tracker,
		log:      d.Log.With().Str("component", "controller").Logger(),
		maxSleep: maxSleep,
	}
	c.metrics.InitZones(st.Zones.Zones())
	c.tracker.Update(st, time.Time{})
	return c
}

// Mode returns the current device mode.
func (c *Controller) Mode() logic.DeviceMode {
	return c.engine.State().Mode
}

// State returns a copy of the controller state.
func (c *Controller) State() *logic.State {
	return c.engine.State().Clone()
}

// Announce publishes the boot banner and the current mode and logs the state.
func (c *Controller) Announce(now time.Time) {
	banner := fmt.Sprintf("### Started at: '%d' ###", now.Unix())
	c.log.Info().Msg(banner)
	c.publishLog(banner)
	c.DumpState()

	st := c.engine.State()
	if err := c.pub.PublishModeState(st.Mode); err != nil {
		c.publishFailed("mode state", err)
	}
	if err := c.pub.PublishEnabledState(st.Enabled); err != nil {
		c.publishFailed("enabled state", err)
	}
}

// DumpState logs every zone and the pending event.
func (c *Controller) DumpState() {
	st := c.engine.State()
	c.log.Info().Str("mode", st.Mode.String()).Bool("enabled", st.Enabled).
		Str("pending", st.Pending.String()).Msg("controller state")
	for _, z := range st.Zones.Zones() {
		c.log.Info().Msg(z.String())
	}
}

// Pass executes due work and schedules the next event.
func (c *Controller) Pass(now time.Time) logic.PendingEvent {
	res := c.engine.ProcessPendingEvent(now)
	ev, sched := c.engine.ComputeNextEvent(now)
	res.Merge(sched)
	c.apply(res, now)
	return ev
}

// FallBackIfIdle switches a background device with nothing scheduled to
// interactive mode. It reports whether the mode changed.
func (c *Controller) FallBackIfIdle(now time.Time) bool {
	st := c.engine.State()
	if st.Mode != logic.ModeBackground || !st.Pending.IsNone() {
		return false
	}
	res, err := c.engine.Apply(logic.SetMode{Mode: logic.ModeInteractive}, now)
	if err != nil {
		c.log.Error().Err(err).Msg("fallback to interactive mode failed")
		return false
	}
	c.log.Info().Msg("no scheduled events, staying interactive")
	c.apply(res, now)
	return true
}

// HandleCommand applies an external command. Rejected commands are reported
// on the log topic and returned. A due scheduled start survives the command
// unless the command reconfigures that zone.
func (c *Controller) HandleCommand(cmd logic.Command, now time.Time) error {
	wasInteractive := c.Mode() == logic.ModeInteractive

	res, err := c.engine.Apply(cmd, now)
	if err != nil {
		c.log.Warn().Err(err).Msgf("command %T rejected", cmd)
		c.publishLog(err.Error())
		return err
	}

	if wasInteractive && c.Mode() == logic.ModeBackground {
		res.Merge(c.engine.ReconcileOverdueZones(now, true))
	}
	if res.Persist {
		if c.keepDueStart(cmd, now) {
			c.log.Debug().Str("pending", c.engine.State().Pending.String()).Msg("keeping due start")
		} else {
			_, sched := c.engine.ComputeNextEvent(now)
			res.Merge(sched)
		}
	}
	c.apply(res, now)
	return nil
}

// keepDueStart reports whether a due pending start must survive cmd. Only a
// new configuration for that zone replaces it.
func (c *Controller) keepDueStart(cmd logic.Command, now time.Time) bool {
	if !c.engine.StartDue(now) {
		return false
	}
	cfg, ok := cmd.(logic.ConfigureZone)
	return !ok || cfg.ZoneID != c.engine.State().Pending.ZoneID
}

// PlanSleep returns how long a background device may sleep and reports the
// decision.
func (c *Controller) PlanSleep(now time.Time) time.Duration {
	ev := c.engine.State().Pending
	d := logic.NextSleepDuration(now, ev, c.maxSleep)

	msg := fmt.Sprintf("Next event: %s Sleeping for %ds.", ev, int64(d/time.Second))
	c.log.Info().Dur("sleep", d).Str("pending", ev.String()).Msg("going to sleep")
	c.publishLog(msg)
	c.metrics.Sleep(d)
	c.tracker.SetNextWake(now.Add(d))
	return d
}

// Stay marks the device as awake; there is no planned wake time.
func (c *Controller) Stay() {
	c.tracker.SetNextWake(time.Time{})
}

// Shutdown stops every zone and persists the final state.
func (c *Controller) Shutdown(now time.Time) {
	res := c.engine.ReconcileOverdueZones(now, true)
	c.apply(res, now)
}

// apply carries out res: actuate, publish, log, count, then persist.
func (c *Controller) apply(res logic.Result, now time.Time) {
	st := c.engine.State()

	for _, tr := range res.Transitions {
		if err := c.act.Apply(tr.Zone.ID, tr.Zone.Pin, tr.On); err != nil {
			c.log.Error().Err(err).Int("zone", tr.Zone.ID).Bool("open", tr.On).Msg("valve pulse failed")
			c.metrics.ActuateError()
		}
		c.log.Info().Int("zone", tr.Zone.ID).Bool("active", tr.On).Str("source", string(tr.Source)).
			Dur("duration", tr.Zone.ActiveDuration).Msg("zone transition")
		c.metrics.Transition(tr)
		if err := c.pub.PublishZoneState(tr.Zone); err != nil {
			c.publishFailed("zone state", err)
		}
	}
	for _, z := range res.Reports {
		if err := c.pub.PublishZoneState(z); err != nil {
			c.publishFailed("zone state", err)
		}
	}
	if res.ModeChanged {
		c.log.Info().Str("mode", st.Mode.String()).Msg("mode changed")
		if err := c.pub.PublishModeState(st.Mode); err != nil {
			c.publishFailed("mode state", err)
		}
	}
	if res.EnabledChanged {
		c.log.Info().Bool("enabled", st.Enabled).Msg("schedules toggled")
		if err := c.pub.PublishEnabledState(st.Enabled); err != nil {
			c.publishFailed("enabled state", err)
		}
	}
	for _, line := range res.Logs {
		c.log.Info().Msg(line)
		c.publishLog(line)
	}
	for _, r := range res.Discarded {
		c.metrics.Discarded(r)
	}
	for _, f := range res.ScheduleErrors {
		c.log.Warn().Err(f.Err).Int("zone", f.ZoneID).Msg("zone unscheduled this pass")
		c.metrics.ScheduleError(f.ZoneID)
	}

	c.tracker.Record(res)
	c.tracker.Update(st, now)

	if res.Persist {
		if err := c.store.Save(st); err != nil {
			c.log.Error().Err(err).Msg("persist state failed")
			c.metrics.PersistError()
		}
	}
}

func (c *Controller) publishLog(msg string) {
	if err := c.pub.PublishLog(msg); err != nil {
		c.publishFailed("log", err)
	}
}

func (c *Controller) publishFailed(what string, err error) {
	// Don't crash on publish failure
	c.log.Warn().Err(err).Msgf("publish %s failed", what)
	c.metrics.PublishError()
}
