package status

import (
	"encoding/json"
	"time"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Mode          string       `json:"mode"`
	Enabled       bool         `json:"enabled"`
	Zones         []ZoneJSON   `json:"zones"`
	Pending       *PendingJSON `json:"pending,omitempty"`
	NextWake      string       `json:"next_wake,omitempty"`
	LastPass      string       `json:"last_pass,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Config        ConfigJSON   `json:"config"`
}

// ZoneJSON is one zone.
type ZoneJSON struct {
	ID                    int    `json:"id"`
	Name                  string `json:"name"`
	Pin                   int    `json:"pin"`
	Cron                  string `json:"cron"`
	DurationSeconds       int64  `json:"duration_seconds"`
	Active                bool   `json:"active"`
	StartedAt             string `json:"started_at,omitempty"`
	StopsAt               string `json:"stops_at,omitempty"`
	ActiveDurationSeconds int64  `json:"active_duration_seconds"`
}

// PendingJSON is the next planned event.
type PendingJSON struct {
	Zone            int    `json:"zone"`
	Type            string `json:"type"`
	FireAt          string `json:"fire_at"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Prefix    string `json:"topic_prefix"`
}

// CountsJSON is the JSON representation of running totals.
type CountsJSON struct {
	Activations int `json:"activations"`
	Discarded   int `json:"discarded"`
	Passes      int `json:"passes"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HTTPAddr              string `json:"http_addr"`
	Store                 string `json:"store"`
	TickSeconds           int64  `json:"tick_seconds"`
	MaxSleepSeconds       int64  `json:"max_sleep_seconds"`
	EarlyToleranceSeconds int64  `json:"early_tolerance_seconds"`
	LateToleranceSeconds  int64  `json:"late_tolerance_seconds"`
}

func rfc3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func secs(d time.Duration) int64 {
	return int64(d / time.Second)
}

func buildZone(z logic.Zone) ZoneJSON {
	zj := ZoneJSON{
		ID:                    z.ID,
		Name:                  z.Name(),
		Pin:                   z.Pin,
		Cron:                  z.Cron,
		DurationSeconds:       secs(z.Duration),
		Active:                z.Active,
		ActiveDurationSeconds: secs(z.ActiveDuration),
	}
	if z.Active {
		zj.StartedAt = rfc3339(z.StartedAt)
		zj.StopsAt = rfc3339(z.StopsAt())
	}
	return zj
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Mode:          snap.Mode.String(),
		Enabled:       snap.Enabled,
		Zones:         make([]ZoneJSON, 0, len(snap.Zones)),
		NextWake:      rfc3339(snap.NextWake),
		LastPass:      rfc3339(snap.LastPass),
		UptimeSeconds: secs(snap.Uptime().Truncate(time.Second)),
		StartTime:     rfc3339(snap.StartTime),
		Timestamp:     rfc3339(snap.Now),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Prefix:    snap.Config.TopicPrefix,
		},
		Counts: CountsJSON{
			Activations: snap.Counts.Activations,
			Discarded:   snap.Counts.Discarded,
			Passes:      snap.Counts.Passes,
		},
		Config: ConfigJSON{
			HTTPAddr:              snap.Config.HTTPAddr,
			Store:                 snap.Config.Store,
			TickSeconds:           secs(snap.Config.TickInterval),
			MaxSleepSeconds:       secs(snap.Config.MaxSleep),
			EarlyToleranceSeconds: secs(snap.Config.Tolerance.Early),
			LateToleranceSeconds:  secs(snap.Config.Tolerance.Late),
		},
	}
	for _, z := range snap.Zones {
		inner.Zones = append(inner.Zones, buildZone(z))
	}
	if !snap.Pending.IsNone() {
		inner.Pending = &PendingJSON{
			Zone:   snap.Pending.ZoneID,
			Type:   snap.Pending.Type.String(),
			FireAt: rfc3339(snap.Pending.FireAt),
		}
		if snap.Pending.Type == logic.EventStart {
			inner.Pending.DurationSeconds = secs(snap.Pending.Duration)
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
