package resolve

import (
	"net/netip"

	"firestige.xyz/fwip/internal/core"
)

// MARB maps a multicast group to the channel it is carried on.
type MARB struct {
	Group   netip.Addr
	Channel uint8
	Speed   core.Speed
	Refs    int // local joins

	// SolicitTimer counts down after a solicit; at zero with no
	// advertisement seen the group becomes a candidate for channel
	// acquisition. Zero means idle.
	SolicitTimer int
}

// Multicast is the MARB table.
type Multicast struct {
	broadcast uint8
	entries   map[netip.Addr]*MARB
}

// NewMulticast creates an empty MARB table whose entries default to the
// broadcast channel.
func NewMulticast(broadcast uint8) *Multicast {
	return &Multicast{
		broadcast: broadcast,
		entries:   make(map[netip.Addr]*MARB),
	}
}

// Join references a group, creating its MARB on the broadcast channel.
func (m *Multicast) Join(group netip.Addr, speed core.Speed) (*MARB, bool) {
	group = group.Unmap()
	mb, ok := m.entries[group]
	if !ok {
		mb = &MARB{Group: group, Channel: m.broadcast, Speed: speed}
		m.entries[group] = mb
	}
	mb.Refs++
	return mb, !ok
}

// Leave drops a reference and removes the MARB with the last one.
func (m *Multicast) Leave(group netip.Addr) (*MARB, bool) {
	group = group.Unmap()
	mb, ok := m.entries[group]
	if !ok {
		return nil, false
	}
	mb.Refs--
	if mb.Refs > 0 {
		return mb, false
	}
	delete(m.entries, group)
	return mb, true
}

// Lookup returns the MARB of a group.
func (m *Multicast) Lookup(group netip.Addr) (*MARB, bool) {
	mb, ok := m.entries[group.Unmap()]
	return mb, ok
}

// Bound returns the MARBs carried on a channel.
func (m *Multicast) Bound(channel uint8) []*MARB {
	var out []*MARB
	for _, mb := range m.entries {
		if mb.Channel == channel {
			out = append(out, mb)
		}
	}
	return out
}

// Rebind moves a group to a channel and stops its solicit timer.
func (m *Multicast) Rebind(mb *MARB, channel uint8, speed core.Speed) {
	mb.Channel = channel
	mb.Speed = speed
	mb.SolicitTimer = 0
}

// Unbind moves a group back to the broadcast channel.
func (m *Multicast) Unbind(mb *MARB, speed core.Speed) {
	m.Rebind(mb, m.broadcast, speed)
}

// OnBroadcast reports whether a group has no dedicated channel.
func (m *Multicast) OnBroadcast(mb *MARB) bool { return mb.Channel == m.broadcast }

// Tick runs solicit timers and returns the groups still on the broadcast
// channel whose solicitation went unanswered.
func (m *Multicast) Tick() []*MARB {
	var due []*MARB
	for _, mb := range m.entries {
		if mb.SolicitTimer <= 0 {
			continue
		}
		mb.SolicitTimer--
		if mb.SolicitTimer == 0 && mb.Channel == m.broadcast {
			due = append(due, mb)
		}
	}
	return due
}

// Len returns the number of groups.
func (m *Multicast) Len() int { return len(m.entries) }

// Range calls fn for every MARB until fn returns false.
func (m *Multicast) Range(fn func(*MARB) bool) {
	for _, mb := range m.entries {
		if !fn(mb) {
			return
		}
	}
}
