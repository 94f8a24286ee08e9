package gpio

import (
	"fmt"
	"sync"
	"time"
)

// Output is a single GPIO output line.
type Output interface {
	SetValue(value int) error
}

// Pins are the line offsets wiring the register and its driver supply (BCM numbering).
type Pins struct {
	Chip         string
	Serial       int
	Clock        int
	Latch        int
	OutputEnable int // active low
	Power        int // driver supply, high while pulsing
}

// Pulse timing of a valve solenoid.
const (
	settleDelay = 50 * time.Millisecond
	pulseWidth  = 500 * time.Millisecond
)

// ShiftRegister latches a zone mask and pulses the zone's enable pin.
type ShiftRegister struct {
	mu     sync.Mutex
	serial Output
	clock  Output
	latch  Output
	oe     Output
	power  Output
	enable map[int]Output // by zone pin
	sleep  func(time.Duration)

	closer func() error
}

// Apply latches the open or close mask for zone id and pulses pin.
func (s *ShiftRegister) Apply(zoneID, pin int, active bool) error {
	mask, err := ZoneMask(zoneID, active)
	if err != nil {
		return err
	}
	en, ok := s.enable[pin]
	if !ok {
		return fmt.Errorf("gpio: no enable line for pin %d", pin)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.power.SetValue(1); err != nil {
		return fmt.Errorf("power on driver: %w", err)
	}
	// the driver is released whatever happens below
	defer s.power.SetValue(0)

	if err := s.shiftOut(mask); err != nil {
		return err
	}
	if err := s.oe.SetValue(0); err != nil {
		return fmt.Errorf("enable outputs: %w", err)
	}
	defer s.oe.SetValue(1)

	s.sleep(settleDelay)
	if err := en.SetValue(1); err != nil {
		return fmt.Errorf("raise enable pin %d: %w", pin, err)
	}
	s.sleep(pulseWidth)
	if err := en.SetValue(0); err != nil {
		return fmt.Errorf("lower enable pin %d: %w", pin, err)
	}
	return nil
}

// shiftOut clocks value in LSB first and latches it onto the outputs.
func (s *ShiftRegister) shiftOut(value uint8) error {
	for i := 0; i < 8; i++ {
		bit := int(value>>i) & 1
		if err := s.serial.SetValue(bit); err != nil {
			return fmt.Errorf("serial bit %d: %w", i, err)
		}
		if err := s.clock.SetValue(1); err != nil {
			return fmt.Errorf("clock bit %d: %w", i, err)
		}
		if err := s.clock.SetValue(0); err != nil {
			return fmt.Errorf("clock bit %d: %w", i, err)
		}
	}
	for _, v := range []int{0, 1, 0} {
		if err := s.latch.SetValue(v); err != nil {
			return fmt.Errorf("latch: %w", err)
		}
	}
	return nil
}

// Close releases GPIO resources.
func (s *ShiftRegister) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
