// Package mqtt carries controller commands and status over an MQTT broker.
//
// Topics live under a configurable prefix (default "lawn-irrigation"):
//
//	in   <prefix>/zone{n}/set              "on[|seconds]" or "off"
//	in   <prefix>/zone{n}/config           "<cron>|<seconds>"
//	in   <prefix>/zone{n}/state            empty payload: republish zone state
//	in   <prefix>/interactive-mode/set     "on" / "off"
//	in   <prefix>/enabled/set              "on" / "off"
//	out  <prefix>/zone{n}/state            "on" / "off"
//	out  <prefix>/interactive-mode/state   "on" / "off"
//	out  <prefix>/enabled/state            "on" / "off"
//	out  <prefix>/log                      free text, retained
package mqtt

import (
	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
)

// DefaultPrefix is the topic root used when none is configured.
const DefaultPrefix = "lawn-irrigation"

// Topic segments.
const (
	segmentMode    = "interactive-mode"
	segmentEnabled = "enabled"
	segmentLog     = "log"

	actionSet    = "set"
	actionConfig = "config"
	actionState  = "state"
)

// Publisher reports controller status to the broker.
type Publisher interface {
	// PublishZoneState sends "on"/"off" for the zone.
	// Returns error if publishing fails (should not crash the process).
	PublishZoneState(z logic.Zone) error

	// PublishModeState sends "on" when interactive, "off" otherwise.
	PublishModeState(mode logic.DeviceMode) error

	// PublishEnabledState sends the schedule kill-switch state.
	PublishEnabledState(enabled bool) error

	// PublishLog sends a retained diagnostic line.
	PublishLog(msg string) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

func (t Topics) ZoneState(id int) string {
	return t.Prefix + "/" + logic.Zone{ID: id}.Name() + "/" + actionState
}

func (t Topics) ModeState() string {
	return t.Prefix + "/" + segmentMode + "/" + actionState
}

func (t Topics) EnabledState() string {
	return t.Prefix + "/" + segmentEnabled + "/" + actionState
}

func (t Topics) Log() string {
	return t.Prefix + "/" + segmentLog
}

// Subscriptions returns the wildcard filters the controller listens on.
func (t Topics) Subscriptions() []string {
	return []string{
		t.Prefix + "/+/" + actionSet,
		t.Prefix + "/+/" + actionConfig,
		t.Prefix + "/+/" + actionState,
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
