package gpio

import (
	"sync"

	"github.com/rs/zerolog"
)

// Call is one recorded Apply.
type Call struct {
	ZoneID int
	Pin    int
	Active bool
}

// FakeActuator is a test double that records valve commands.
type FakeActuator struct {
	mu sync.Mutex

	// Calls contains every Apply in order.
	Calls []Call

	// ApplyError, if set, will be returned by Apply.
	ApplyError error

	// Closed tracks if Close was called.
	Closed bool
}

func (f *FakeActuator) Apply(zoneID, pin int, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ApplyError != nil {
		return f.ApplyError
	}
	f.Calls = append(f.Calls, Call{ZoneID: zoneID, Pin: pin, Active: active})
	return nil
}

// Close marks the actuator as closed.
func (f *FakeActuator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Recorded returns a copy of the recorded calls.
func (f *FakeActuator) Recorded() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.Calls...)
}

// LogActuator only logs valve commands. Used when no register is wired.
type LogActuator struct {
	Log zerolog.Logger
}

func (a LogActuator) Apply(zoneID, pin int, active bool) error {
	mask, err := ZoneMask(zoneID, active)
	if err != nil {
		return err
	}
	a.Log.Info().Int("zone", zoneID).Int("pin", pin).Bool("open", active).
		Str("mask", "0b"+formatMask(mask)).Msg("valve (dry run)")
	return nil
}

func (a LogActuator) Close() error {
	return nil
}

func formatMask(m uint8) string {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		if m&(1<<(7-i)) != 0 {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}
