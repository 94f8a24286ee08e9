//go:build !linux

package gpio

import "errors"

// OpenShiftRegister returns an error on non-Linux platforms.
func OpenShiftRegister(pins Pins, zonePins []int) (*ShiftRegister, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}
