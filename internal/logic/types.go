// Package logic contains the pure scheduling and event-processing engine of the
// sprinkler controller.
// This package has NO external dependencies (no GPIO, MQTT, storage or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// MaxDuration caps every zone activation.
const MaxDuration = 30 * time.Minute

// Default tolerance window around a scheduled start.
const (
	DefaultEarlyTolerance = 30 * time.Second
	DefaultLateTolerance  = 30 * time.Second
)

// DefaultMaxSleep is the hardware deep-sleep ceiling.
const DefaultMaxSleep = 3 * time.Hour

// DeviceMode selects how the device spends the time between events.
type DeviceMode uint8

const (
	// ModeBackground sleeps between scheduled wake windows. Initial mode.
	ModeBackground DeviceMode = iota
	// ModeInteractive stays awake and accepts ad-hoc commands.
	ModeInteractive
)

func (m DeviceMode) String() string {
	switch m {
	case ModeBackground:
		return "BACKGROUND"
	case ModeInteractive:
		return "INTERACTIVE"
	default:
		return fmt.Sprintf("MODE(%d)", uint8(m))
	}
}

// EventType is the kind of a pending event.
type EventType uint8

const (
	EventNone EventType = iota
	EventStart
	EventStop
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "NONE"
	case EventStart:
		return "START"
	case EventStop:
		return "STOP"
	default:
		return fmt.Sprintf("EVENT(%d)", uint8(t))
	}
}

// Zone is one irrigation valve with its configuration and live state.
type Zone struct {
	ID   int // 1..N, also the actuation address
	Pin  int // enable line handed to the actuator, opaque here
	Cron string
	// Duration is the configured run length for scheduled starts.
	Duration time.Duration

	Active    bool
	StartedAt time.Time // zero when inactive
	// ActiveDuration is the run length applied to the current or most recent activation.
	ActiveDuration time.Duration
}

// Name returns the topic segment addressing this zone, e.g. "zone2".
func (z Zone) Name() string {
	return fmt.Sprintf("zone%d", z.ID)
}

// StopsAt returns when the current activation ends.
func (z Zone) StopsAt() time.Time {
	return z.StartedAt.Add(z.ActiveDuration)
}

func (z Zone) String() string {
	return fmt.Sprintf("Zone[%d] { pin: %d, active: %t, started: %d, duration: %ds, cron: '%s', configured: %ds }",
		z.ID, z.Pin, z.Active, unixOrZero(z.StartedAt), int64(z.ActiveDuration.Seconds()), z.Cron, int64(z.Duration.Seconds()))
}

// PendingEvent is the single next thing the controller plans to do.
type PendingEvent struct {
	ZoneID   int // 0 when Type is EventNone
	Type     EventType
	FireAt   time.Time
	Duration time.Duration // start events only
}

// NoEvent is the pending event meaning "nothing scheduled".
var NoEvent = PendingEvent{}

// IsNone reports whether there is nothing to do.
func (e PendingEvent) IsNone() bool {
	return e.Type == EventNone
}

func (e PendingEvent) String() string {
	return fmt.Sprintf("Zone:%d; Event:%s; At:%d;", e.ZoneID, e.Type, unixOrZero(e.FireAt))
}

// State is the process-wide controller state that survives sleep cycles.
type State struct {
	// Enabled is the global kill-switch for scheduled starts.
	Enabled bool
	Mode    DeviceMode
	Zones   *Registry
	Pending PendingEvent
}

// NewState returns the compiled-default state for the given zones.
func NewState(zones []Zone) (*State, error) {
	reg, err := NewRegistry(zones)
	if err != nil {
		return nil, err
	}
	return &State{
		Enabled: true,
		Mode:    ModeBackground,
		Zones:   reg,
	}, nil
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := *s
	c.Zones = s.Zones.Clone()
	return &c
}

// ActiveZone returns the zone currently irrigating, if any.
func (s *State) ActiveZone() (Zone, bool) {
	for _, z := range s.Zones.zones {
		if z.Active {
			return z, true
		}
	}
	return Zone{}, false
}

// ClampDuration bounds d to [1s, MaxDuration].
func ClampDuration(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	if d > MaxDuration {
		return MaxDuration
	}
	return d
}

// stamp normalises a wall-clock reading to whole UTC seconds, the precision
// persisted snapshots carry.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
