//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// OpenShiftRegister requests the register lines and one enable line per zone pin.
func OpenShiftRegister(pins Pins, zonePins []int) (*ShiftRegister, error) {
	chipName := pins.Chip
	if chipName == "" {
		chipName = "gpiochip0"
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	var lines []*gpiocdev.Line
	release := func() error {
		var errs []error
		// Return every line to input so nothing is driven between runs.
		for _, l := range lines {
			if err := l.Reconfigure(gpiocdev.AsInput); err != nil {
				errs = append(errs, fmt.Errorf("reconfigure line %d: %w", l.Offset(), err))
			}
			if err := l.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close line %d: %w", l.Offset(), err))
			}
		}
		if err := chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		if len(errs) > 0 {
			return fmt.Errorf("close errors: %v", errs)
		}
		return nil
	}
	request := func(name string, offset, initial int) (*gpiocdev.Line, error) {
		l, err := chip.RequestLine(offset, gpiocdev.AsOutput(initial), gpiocdev.WithConsumer("sprinkler"))
		if err != nil {
			release()
			return nil, fmt.Errorf("request %s pin %d: %w", name, offset, err)
		}
		lines = append(lines, l)
		return l, nil
	}

	sr := &ShiftRegister{enable: make(map[int]Output), sleep: time.Sleep, closer: release}
	if sr.serial, err = request("serial", pins.Serial, 0); err != nil {
		return nil, err
	}
	if sr.clock, err = request("clock", pins.Clock, 0); err != nil {
		return nil, err
	}
	if sr.latch, err = request("latch", pins.Latch, 0); err != nil {
		return nil, err
	}
	if sr.oe, err = request("output-enable", pins.OutputEnable, 1); err != nil {
		return nil, err
	}
	if sr.power, err = request("power", pins.Power, 0); err != nil {
		return nil, err
	}
	for _, p := range zonePins {
		if _, dup := sr.enable[p]; dup {
			continue
		}
		l, err := request("zone enable", p, 0)
		if err != nil {
			return nil, err
		}
		sr.enable[p] = l
	}
	return sr, nil
}
