package logic

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Registry owns the fixed set of zones. Zones are never added or removed
// after construction; only their fields change.
type Registry struct {
	zones []Zone // sorted by ID, IDs are 1..N
}

// NewRegistry validates and orders the zone set. IDs must be unique and
// cover 1..len(zones).
func NewRegistry(zones []Zone) (*Registry, error) {
	if len(zones) == 0 {
		return nil, fmt.Errorf("registry: no zones configured")
	}
	sorted := make([]Zone, len(zones))
	copy(sorted, zones)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i, z := range sorted {
		if z.ID != i+1 {
			return nil, fmt.Errorf("registry: zone ids must be 1..%d without gaps, got %d at position %d", len(sorted), z.ID, i+1)
		}
		if z.ActiveDuration > MaxDuration {
			sorted[i].ActiveDuration = MaxDuration
		}
	}
	return &Registry{zones: sorted}, nil
}

// Len returns the number of zones.
func (r *Registry) Len() int {
	return len(r.zones)
}

// ByID returns the zone with the given id.
func (r *Registry) ByID(id int) (*Zone, bool) {
	if id < 1 || id > len(r.zones) {
		return nil, false
	}
	return &r.zones[id-1], true
}

// ByName resolves a topic segment such as "zone3".
func (r *Registry) ByName(name string) (*Zone, bool) {
	id, ok := ParseZoneName(name)
	if !ok {
		return nil, false
	}
	return r.ByID(id)
}

// Zones returns a copy of all zones in id order.
func (r *Registry) Zones() []Zone {
	out := make([]Zone, len(r.zones))
	copy(out, r.zones)
	return out
}

// Clone returns a deep copy.
func (r *Registry) Clone() *Registry {
	return &Registry{zones: r.Zones()}
}

// ParseZoneName extracts n from "zone{n}".
func ParseZoneName(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "zone")
	if !ok || rest == "" {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
