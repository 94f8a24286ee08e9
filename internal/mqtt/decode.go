package mqtt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
)

// PayloadError is returned for a message on a known topic whose payload
// cannot be understood.
type PayloadError struct {
	Topic   string
	Payload string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("unrecognised payload %q on %s", e.Payload, e.Topic)
}

// DecodeCommand turns an inbound message into a command. It returns a nil
// command and nil error for messages that need no action, such as echoes of
// our own state publishes or topics outside the scheme.
func DecodeCommand(prefix, topic string, payload []byte) (logic.Command, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return nil, nil
	}
	segment, action, ok := strings.Cut(rest, "/")
	if !ok || strings.Contains(action, "/") {
		return nil, nil
	}
	body := strings.TrimSpace(string(payload))

	switch segment {
	case segmentMode:
		if action != actionSet {
			return nil, nil
		}
		on, err := parseOnOff(topic, body)
		if err != nil {
			return nil, err
		}
		mode := logic.ModeBackground
		if on {
			mode = logic.ModeInteractive
		}
		return logic.SetMode{Mode: mode}, nil

	case segmentEnabled:
		if action != actionSet {
			return nil, nil
		}
		on, err := parseOnOff(topic, body)
		if err != nil {
			return nil, err
		}
		return logic.SetEnabled{Enabled: on}, nil
	}

	id, ok := logic.ParseZoneName(segment)
	if !ok {
		return nil, nil
	}

	switch action {
	case actionSet:
		return decodeZoneSet(topic, id, body)
	case actionConfig:
		return decodeZoneConfig(id, body)
	case actionState:
		if body != "" {
			// our own "on"/"off" state publish
			return nil, nil
		}
		return logic.QueryZone{ZoneID: id}, nil
	}
	return nil, nil
}

func decodeZoneSet(topic string, id int, body string) (logic.Command, error) {
	op, dur, hasDur := strings.Cut(body, "|")
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "on":
		cmd := logic.StartZone{ZoneID: id}
		if hasDur && strings.TrimSpace(dur) != "" {
			secs, err := strconv.Atoi(strings.TrimSpace(dur))
			if err != nil || secs < 0 {
				return nil, &PayloadError{Topic: topic, Payload: body}
			}
			cmd.Duration = time.Duration(secs) * time.Second
		}
		return cmd, nil
	case "off":
		return logic.StopZone{ZoneID: id}, nil
	}
	return nil, &PayloadError{Topic: topic, Payload: body}
}

func decodeZoneConfig(id int, body string) (logic.Command, error) {
	cron, dur, ok := cutLast(body, "|")
	if !ok {
		return nil, &logic.ConfigError{Payload: body, Reason: "missing '|' separator"}
	}
	secs, err := strconv.Atoi(strings.TrimSpace(dur))
	if err != nil {
		return nil, &logic.ConfigError{Payload: body, Reason: "duration is not an integer number of seconds"}
	}
	return logic.ConfigureZone{
		ZoneID:   id,
		Cron:     strings.TrimSpace(cron),
		Duration: time.Duration(secs) * time.Second,
	}, nil
}

func parseOnOff(topic, body string) (bool, error) {
	switch strings.ToLower(body) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, &PayloadError{Topic: topic, Payload: body}
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
