// Package mcap tracks multicast channel control blocks and runs their
// lease lifecycle. It decides; the link performs the resulting actions.
package mcap

import (
	"fmt"
	"net/netip"
	"slices"
	"sort"

	"firestige.xyz/fwip/internal/core"
)

// State is the lifecycle state of a channel.
type State int

const (
	// Unowned channels are allocated by another node; we only listen.
	Unowned State = iota
	// Owned channels were allocated by us and are advertised periodically.
	Owned
	// Warning channels are owned but losing their last member; the
	// remaining final advertisements count down to release.
	Warning
)

func (s State) String() string {
	switch s {
	case Unowned:
		return "unowned"
	case Owned:
		return "owned"
	case Warning:
		return "warning"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds lifecycle timing. All values are in watchdog ticks.
type Config struct {
	Lease             int // expiration advertised and granted (default 60)
	AdvertiseInterval int // ticks between advertisements of an owned channel (default 10)
	FinalWarnings     int // advertisements sent before release (default 4)
}

// MCB is the control block of one non-broadcast channel.
type MCB struct {
	Channel      uint8
	Speed        core.Speed
	State        State
	Owner        core.NodeID // advertiser of an Unowned channel
	Expiration   int         // lease ticks left
	NextTransmit int         // ticks until the next advertisement, 0 = none scheduled
	FinalWarning int         // final advertisements left in Warning
	Members      int         // local groups bound to the channel
	Groups       []netip.Addr
}

// Action is what the link must do for a channel after Tick.
type Action int

const (
	// Advertise the channel's groups with Event.Expiration.
	Advertise Action = iota
	// Release the channel at the IRM and stop listening. Emitted exactly
	// once per acquisition.
	Release
	// Expire stops listening on a channel whose owner went silent; its
	// groups fall back to the broadcast channel.
	Expire
)

func (a Action) String() string {
	switch a {
	case Advertise:
		return "advertise"
	case Release:
		return "release"
	case Expire:
		return "expire"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Event is one Action for one channel.
type Event struct {
	Action     Action
	Channel    uint8
	Expiration uint8
}

// Table holds the MCBs of one link. It is not safe for concurrent use.
type Table struct {
	cfg  Config
	mcbs map[uint8]*MCB
}

// New creates an empty MCB table.
func New(cfg Config) *Table {
	if cfg.Lease <= 0 {
		cfg.Lease = 60
	}
	if cfg.AdvertiseInterval <= 0 {
		cfg.AdvertiseInterval = 10
	}
	if cfg.FinalWarnings <= 0 {
		cfg.FinalWarnings = 4
	}
	return &Table{cfg: cfg, mcbs: make(map[uint8]*MCB)}
}

// Lease returns the configured lease.
func (t *Table) Lease() int { return t.cfg.Lease }

// Lookup returns the MCB of a channel.
func (t *Table) Lookup(channel uint8) (*MCB, bool) {
	m, ok := t.mcbs[channel]
	return m, ok
}

// Own records a channel we just allocated at the IRM. The caller advertises
// it right away; the next periodic advertisement follows one interval later.
func (t *Table) Own(channel uint8, speed core.Speed, members int) *MCB {
	m := &MCB{
		Channel:      channel,
		Speed:        speed,
		State:        Owned,
		Expiration:   t.cfg.Lease,
		NextTransmit: t.cfg.AdvertiseInterval,
		Members:      members,
	}
	t.mcbs[channel] = m
	return m
}

// Contest decides whether an advertisement from src for a channel wins over
// our view of it. It wins when we do not own the channel, when the advertiser
// is winding its lease down, or when src has priority over self. When we keep
// the channel a re-advertisement is scheduled for the next tick.
func (t *Table) Contest(channel uint8, src, self core.NodeID, expiration uint8) bool {
	m, ok := t.mcbs[channel]
	if !ok || m.State == Unowned {
		return true
	}
	if int(expiration) < t.cfg.Lease || src >= self {
		return true
	}
	m.NextTransmit = 1
	return false
}

// Adopt records (or refreshes) a channel advertised by owner. A channel we
// owned is surrendered without an IRM release; the allocation belongs to
// the winner now. Returns whether we held the channel before.
func (t *Table) Adopt(channel uint8, owner core.NodeID, expiration uint8, speed core.Speed) (*MCB, bool) {
	exp := t.cfg.Lease
	if int(expiration) < exp {
		exp = int(expiration)
	}
	m, ok := t.mcbs[channel]
	surrendered := ok && m.State != Unowned
	if !ok {
		m = &MCB{Channel: channel}
		t.mcbs[channel] = m
	}
	m.State = Unowned
	m.Owner = owner
	m.Speed = speed
	m.Expiration = exp
	m.NextTransmit = 0
	m.FinalWarning = 0
	return m, surrendered
}

// AddGroup records that a channel carries group. Advertisements of an owned
// channel list its groups.
func (t *Table) AddGroup(channel uint8, group netip.Addr) {
	m, ok := t.mcbs[channel]
	if !ok || slices.Contains(m.Groups, group) {
		return
	}
	m.Groups = append(m.Groups, group)
}

// RemoveGroup stops advertising group on a channel.
func (t *Table) RemoveGroup(channel uint8, group netip.Addr) {
	if m, ok := t.mcbs[channel]; ok {
		m.Groups = slices.DeleteFunc(m.Groups, func(g netip.Addr) bool { return g == group })
	}
}

// ChannelOf returns the MCB carrying group.
func (t *Table) ChannelOf(group netip.Addr) (*MCB, bool) {
	for _, m := range t.mcbs {
		if slices.Contains(m.Groups, group) {
			return m, true
		}
	}
	return nil, false
}

// SetMembers records how many local groups use a channel. An owner in
// Warning that regains a member returns to Owned.
func (t *Table) SetMembers(channel uint8, n int) {
	m, ok := t.mcbs[channel]
	if !ok {
		return
	}
	m.Members = n
	if n > 0 && m.State == Warning {
		m.State = Owned
		m.FinalWarning = 0
		m.Expiration = t.cfg.Lease
		m.NextTransmit = 1
	}
}

// Remove forgets a channel without emitting any action.
func (t *Table) Remove(channel uint8) (*MCB, bool) {
	m, ok := t.mcbs[channel]
	if ok {
		delete(t.mcbs, channel)
	}
	return m, ok
}

// Owned returns the channels we own (including those in Warning), sorted.
func (t *Table) Owned() []uint8 {
	var out []uint8
	for ch, m := range t.mcbs {
		if m.State != Unowned {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of tracked channels.
func (t *Table) Len() int { return len(t.mcbs) }

// Tick runs one watchdog step over every channel and returns the actions
// due, ordered by channel.
func (t *Table) Tick() []Event {
	channels := make([]uint8, 0, len(t.mcbs))
	for ch := range t.mcbs {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	var events []Event
	for _, ch := range channels {
		events = append(events, t.step(t.mcbs[ch])...)
	}
	return events
}

func (t *Table) step(m *MCB) []Event {
	switch m.State {
	case Unowned:
		m.Expiration--
		if m.Expiration <= 0 {
			delete(t.mcbs, m.Channel)
			return []Event{{Action: Expire, Channel: m.Channel}}
		}
		return nil

	case Owned:
		if m.Members > 0 {
			m.Expiration = t.cfg.Lease
		} else {
			m.Expiration--
			if m.Expiration <= 0 {
				m.State = Warning
				m.FinalWarning = t.cfg.FinalWarnings
				m.NextTransmit = 0
				return t.step(m)
			}
		}
		if m.NextTransmit > 0 {
			m.NextTransmit--
			if m.NextTransmit == 0 {
				m.NextTransmit = t.cfg.AdvertiseInterval
				return []Event{{Action: Advertise, Channel: m.Channel, Expiration: uint8(m.Expiration)}}
			}
		}
		return nil

	case Warning:
		events := []Event{{Action: Advertise, Channel: m.Channel, Expiration: uint8(m.FinalWarning)}}
		m.FinalWarning--
		if m.FinalWarning <= 0 {
			delete(t.mcbs, m.Channel)
			events = append(events, Event{Action: Release, Channel: m.Channel})
		}
		return events
	}
	return nil
}

// Drain removes every channel and returns the owned ones, which the caller
// releases. Used when the link shuts down.
func (t *Table) Drain() []uint8 {
	owned := t.Owned()
	t.mcbs = make(map[uint8]*MCB)
	return owned
}
