// Package status provides a thread-safe view of controller state for the
// HTTP server. The controller writes it after every pass.
package status

import (
	"sync"
	"time"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Broker       string
	TopicPrefix  string
	HTTPAddr     string
	Store        string
	TickInterval time.Duration
	MaxSleep     time.Duration
	Tolerance    logic.Tolerance
}

// Snapshot is a point-in-time view of controller state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Zones    []logic.Zone
	Pending  logic.PendingEvent
	Mode     logic.DeviceMode
	Enabled  bool
	NextWake time.Time // zero while interactive
	LastPass time.Time
	Counts   Counts

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Counts are totals since the daemon started.
type Counts struct {
	Activations int
	Discarded   int
	Passes      int
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// ActiveZone returns the zone currently irrigating, if any.
func (s Snapshot) ActiveZone() (logic.Zone, bool) {
	for _, z := range s.Zones {
		if z.Active {
			return z, true
		}
	}
	return logic.Zone{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update copies the controller state. at is the wall-clock time of the pass.
func (t *Tracker) Update(st *logic.State, at time.Time) {
	zones := st.Zones.Zones()
	t.mu.Lock()
	t.snap.Zones = zones
	t.snap.Pending = st.Pending
	t.snap.Mode = st.Mode
	t.snap.Enabled = st.Enabled
	t.snap.LastPass = at
	t.snap.Counts.Passes++
	t.mu.Unlock()
}

// Record adds a pass's activations and discards to the running totals.
func (t *Tracker) Record(res logic.Result) {
	t.mu.Lock()
	for _, tr := range res.Transitions {
		if tr.On {
			t.snap.Counts.Activations++
		}
	}
	t.snap.Counts.Discarded += len(res.Discarded)
	t.mu.Unlock()
}

// SetNextWake records when a background device will wake. Zero clears it.
func (t *Tracker) SetNextWake(at time.Time) {
	t.mu.Lock()
	t.snap.NextWake = at
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the controller state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Zones = append([]logic.Zone(nil), t.snap.Zones...)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
