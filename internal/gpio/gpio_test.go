package gpio

import (
	"errors"
	"testing"
	"time"
)

func TestZoneMask(t *testing.T) {
	tests := []struct {
		id   int
		open bool
		want uint8
	}{
		{1, true, 0b00000001},
		{1, false, 0b00000010},
		{2, true, 0b00000100},
		{2, false, 0b00001000},
		{3, true, 0b00010000},
		{3, false, 0b00100000},
		{4, true, 0b01000000},
		{4, false, 0b10000000},
	}
	for _, tt := range tests {
		got, err := ZoneMask(tt.id, tt.open)
		if err != nil {
			t.Fatalf("ZoneMask(%d, %t): %v", tt.id, tt.open, err)
		}
		if got != tt.want {
			t.Errorf("ZoneMask(%d, %t) = %08b, want %08b", tt.id, tt.open, got, tt.want)
		}
	}
	for _, id := range []int{0, 5, -1} {
		if _, err := ZoneMask(id, true); err == nil {
			t.Errorf("ZoneMask(%d) should fail", id)
		}
	}
}

// event is one line write or sleep observed by the recorder.
type event struct {
	line  string
	value int
	sleep time.Duration
}

type recorder struct {
	events []event
	failOn string
}

type recLine struct {
	name string
	r    *recorder
}

func (l recLine) SetValue(v int) error {
	if l.r.failOn == l.name {
		return errors.New("line busy")
	}
	l.r.events = append(l.r.events, event{line: l.name, value: v})
	return nil
}

func newTestRegister(r *recorder) *ShiftRegister {
	return &ShiftRegister{
		serial: recLine{"serial", r},
		clock:  recLine{"clock", r},
		latch:  recLine{"latch", r},
		oe:     recLine{"oe", r},
		power:  recLine{"power", r},
		enable: map[int]Output{17: recLine{"en17", r}},
		sleep:  func(d time.Duration) { r.events = append(r.events, event{sleep: d}) },
	}
}

func TestShiftRegisterApplySequence(t *testing.T) {
	r := &recorder{}
	sr := newTestRegister(r)

	if err := sr.Apply(2, 17, true); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// serial bits, LSB first, for mask 0b00000100
	var bits []int
	for _, e := range r.events {
		if e.line == "serial" {
			bits = append(bits, e.value)
		}
	}
	wantBits := []int{0, 0, 1, 0, 0, 0, 0, 0}
	if len(bits) != 8 {
		t.Fatalf("expected 8 serial bits, got %d", len(bits))
	}
	for i := range wantBits {
		if bits[i] != wantBits[i] {
			t.Errorf("bit %d: got %d, want %d", i, bits[i], wantBits[i])
		}
	}

	// tail of the sequence: latch, outputs on, settle, pulse, outputs off, power off
	tail := r.events[len(r.events)-10:]
	want := []event{
		{line: "latch", value: 0},
		{line: "latch", value: 1},
		{line: "latch", value: 0},
		{line: "oe", value: 0},
		{sleep: settleDelay},
		{line: "en17", value: 1},
		{sleep: pulseWidth},
		{line: "en17", value: 0},
		{line: "oe", value: 1},
		{line: "power", value: 0},
	}
	for i := range want {
		if tail[i] != want[i] {
			t.Errorf("step %d: got %+v, want %+v", i, tail[i], want[i])
		}
	}
	if r.events[0] != (event{line: "power", value: 1}) {
		t.Errorf("first step should power the driver, got %+v", r.events[0])
	}
}

func TestShiftRegisterReleasesOnFailure(t *testing.T) {
	r := &recorder{failOn: "en17"}
	sr := newTestRegister(r)

	if err := sr.Apply(1, 17, false); err == nil {
		t.Fatal("expected error")
	}
	last := r.events[len(r.events)-2:]
	if last[0] != (event{line: "oe", value: 1}) || last[1] != (event{line: "power", value: 0}) {
		t.Errorf("outputs and power should be released, got %+v", last)
	}
}

func TestShiftRegisterUnknownPin(t *testing.T) {
	sr := newTestRegister(&recorder{})
	if err := sr.Apply(1, 99, true); err == nil {
		t.Error("expected error for unwired pin")
	}
}

func TestFakeActuator(t *testing.T) {
	f := &FakeActuator{}
	if err := f.Apply(3, 22, true); err != nil {
		t.Fatal(err)
	}
	f.ApplyError = errors.New("boom")
	if err := f.Apply(3, 22, false); err == nil {
		t.Error("expected scripted error")
	}
	calls := f.Recorded()
	if len(calls) != 1 || calls[0] != (Call{ZoneID: 3, Pin: 22, Active: true}) {
		t.Errorf("calls: %+v", calls)
	}
	f.Close()
	if !f.Closed {
		t.Error("Close not recorded")
	}
}

func TestFormatMask(t *testing.T) {
	if got := formatMask(0b00000110); got != "00000110" {
		t.Errorf("formatMask: %s", got)
	}
}
