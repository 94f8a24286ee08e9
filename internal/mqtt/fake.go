package mqtt

import (
	"sync"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
)

// Published is one message recorded by FakePublisher.
type Published struct {
	Topic    string
	Payload  string
	Retained bool
}

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Topics is the scheme used to name recorded messages.
	Topics Topics

	// Messages contains everything published, in order.
	Messages []Published

	// PublishError, if set, is returned by every publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher using the default prefix.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Topics: Topics{Prefix: DefaultPrefix}, Connected: true}
}

func (f *FakePublisher) record(topic, payload string, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, Published{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (f *FakePublisher) PublishZoneState(z logic.Zone) error {
	return f.record(f.Topics.ZoneState(z.ID), onOff(z.Active), false)
}

func (f *FakePublisher) PublishModeState(mode logic.DeviceMode) error {
	return f.record(f.Topics.ModeState(), onOff(mode == logic.ModeInteractive), false)
}

func (f *FakePublisher) PublishEnabledState(enabled bool) error {
	return f.record(f.Topics.EnabledState(), onOff(enabled), false)
}

func (f *FakePublisher) PublishLog(msg string) error {
	return f.record(f.Topics.Log(), msg, true)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// On returns the payloads published to topic, in order.
func (f *FakePublisher) On(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.Messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Logs returns the published log lines.
func (f *FakePublisher) Logs() []string {
	return f.On(f.Topics.Log())
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = nil
	f.Closed = false
	f.PublishError = nil
}
