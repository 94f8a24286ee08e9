// Package gpio drives the zone valves through a latching shift register.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "fmt"

// Actuator asserts a zone open or closed.
type Actuator interface {
	// Apply opens (active) or closes the valve of zone id, pulsing its enable pin.
	Apply(zoneID, pin int, active bool) error

	// Close releases GPIO resources.
	Close() error
}

// MaxZones is how many valves one 8-bit register can address: two bits each,
// the low bit opens and the high bit closes.
const MaxZones = 4

// ZoneMask returns the register value that opens or closes zone id.
func ZoneMask(zoneID int, open bool) (uint8, error) {
	if zoneID < 1 || zoneID > MaxZones {
		return 0, fmt.Errorf("gpio: zone %d outside 1..%d", zoneID, MaxZones)
	}
	shift := 2 * (zoneID - 1)
	if open {
		return 1 << shift, nil
	}
	return 2 << shift, nil
}
