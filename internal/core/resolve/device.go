package resolve

import (
	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/log"
)

// DRB maps an EUI-64 to a device handle that survives bus resets.
type DRB struct {
	EUI64   core.EUI64
	Device  core.DeviceHandle
	MaxRec  uint8
	Speed   core.Speed
	Present bool
	Timer   int // grace ticks left once the device disappeared
}

// Devices is the DRB table.
type Devices struct {
	grace   int
	entries map[core.EUI64]*DRB
}

// NewDevices creates an empty DRB table. grace is the number of ticks a
// departed device is remembered.
func NewDevices(grace int) *Devices {
	if grace <= 0 {
		grace = 30
	}
	return &Devices{
		grace:   grace,
		entries: make(map[core.EUI64]*DRB),
	}
}

// Attach records a discovered unit, reviving a remembered one when the
// EUI-64 is already known.
func (d *Devices) Attach(info core.DeviceInfo) (*DRB, bool) {
	for eui, other := range d.entries {
		if eui != info.EUI64 && other.Present && other.Device == info.Handle {
			// Two present units cannot share a handle; the older record is stale.
			err := core.Violation("device handle %d shared by %s and %s", info.Handle, eui, info.EUI64)
			log.GetLogger().WithError(err).Warn("evicting stale device record")
			delete(d.entries, eui)
		}
	}

	drb, ok := d.entries[info.EUI64]
	if !ok {
		drb = &DRB{EUI64: info.EUI64}
		d.entries[info.EUI64] = drb
	}
	drb.Device = info.Handle
	drb.MaxRec = info.MaxRec
	drb.Speed = info.Speed
	drb.Present = true
	drb.Timer = 0
	return drb, !ok
}

// Detach starts the grace timer of a unit that left the bus. The record is
// kept so a transient reset does not force re-resolution.
func (d *Devices) Detach(eui core.EUI64) bool {
	drb, ok := d.entries[eui]
	if !ok || !drb.Present {
		return false
	}
	drb.Present = false
	drb.Timer = d.grace
	return true
}

// Remove forgets a unit confirmed permanently gone.
func (d *Devices) Remove(eui core.EUI64) bool {
	if _, ok := d.entries[eui]; !ok {
		return false
	}
	delete(d.entries, eui)
	return true
}

// Lookup returns the record for eui, present or not.
func (d *Devices) Lookup(eui core.EUI64) (*DRB, bool) {
	drb, ok := d.entries[eui]
	return drb, ok
}

// DeviceForEUI64 returns the handle of a present unit.
func (d *Devices) DeviceForEUI64(eui core.EUI64) (core.DeviceHandle, bool) {
	drb, ok := d.entries[eui]
	if !ok || !drb.Present {
		return 0, false
	}
	return drb.Device, true
}

// Tick ages departed units and returns the ones whose grace expired.
func (d *Devices) Tick() []core.EUI64 {
	var gone []core.EUI64
	for eui, drb := range d.entries {
		if drb.Present {
			continue
		}
		drb.Timer--
		if drb.Timer <= 0 {
			delete(d.entries, eui)
			gone = append(gone, eui)
		}
	}
	return gone
}

// Len returns the number of records.
func (d *Devices) Len() int { return len(d.entries) }

// Range calls fn for every record until fn returns false.
func (d *Devices) Range(fn func(*DRB) bool) {
	for _, drb := range d.entries {
		if !fn(drb) {
			return
		}
	}
}
