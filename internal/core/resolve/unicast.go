package resolve

import (
	"net/netip"

	"firestige.xyz/fwip/internal/core"
)

// UnicastConfig configures the ARB table.
type UnicastConfig struct {
	Lifetime        int // ticks a resolved entry lives without refresh
	PendingLifetime int // ticks a pending entry waits for an ARP reply
	RetryTicks      int // ticks between ARP requests while pending (0 = no retry)
	HoldQueue       int // datagrams held per pending entry
}

// Held is a datagram queued on a pending ARB.
type Held struct {
	EtherType uint16
	Data      []byte
}

// ARB maps an IP address to a 1394 hardware address.
type ARB struct {
	IP      netip.Addr
	HW      core.HWAddr
	Timer   int
	Pending bool

	retry int
	held  []Held
}

// Expired describes an ARB evicted by Tick.
type Expired struct {
	IP      netip.Addr
	Pending bool // ARP was never answered
	Dropped int  // held datagrams discarded with the entry
}

// Unicast is the ARB table.
type Unicast struct {
	cfg     UnicastConfig
	entries map[netip.Addr]*ARB
}

// NewUnicast creates an empty ARB table.
func NewUnicast(cfg UnicastConfig) *Unicast {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 600
	}
	if cfg.PendingLifetime <= 0 {
		cfg.PendingLifetime = 5
	}
	if cfg.HoldQueue <= 0 {
		cfg.HoldQueue = 1
	}
	return &Unicast{
		cfg:     cfg,
		entries: make(map[netip.Addr]*ARB),
	}
}

// Resolve looks up an entry without creating one.
func (u *Unicast) Resolve(ip netip.Addr) (*ARB, bool) {
	a, ok := u.entries[ip.Unmap()]
	return a, ok
}

// Learn creates the entry for ip or refreshes its hardware fields, clears
// the pending flag and restarts the aging timer.
func (u *Unicast) Learn(ip netip.Addr, hw core.HWAddr) *ARB {
	ip = ip.Unmap()
	a, ok := u.entries[ip]
	if !ok {
		a = &ARB{IP: ip}
		u.entries[ip] = a
	}
	a.HW = hw
	a.Pending = false
	a.Timer = u.cfg.Lifetime
	a.retry = 0
	return a
}

// Pend returns the entry for ip, creating a pending one when absent.
func (u *Unicast) Pend(ip netip.Addr) (*ARB, bool) {
	ip = ip.Unmap()
	if a, ok := u.entries[ip]; ok {
		return a, false
	}
	a := &ARB{
		IP:      ip,
		Timer:   u.cfg.PendingLifetime,
		Pending: true,
		retry:   u.cfg.RetryTicks,
	}
	u.entries[ip] = a
	return a, true
}

// Hold queues a datagram on a pending entry. It reports false when the hold
// queue is full and the datagram must be dropped.
func (u *Unicast) Hold(a *ARB, etherType uint16, data []byte) bool {
	if len(a.held) >= u.cfg.HoldQueue {
		return false
	}
	a.held = append(a.held, Held{EtherType: etherType, Data: data})
	return true
}

// Release drains the datagrams held on an entry.
func (u *Unicast) Release(a *ARB) []Held {
	held := a.held
	a.held = nil
	return held
}

// InvalidateEUI64 removes every resolved entry pointing at a device and
// returns how many were removed.
func (u *Unicast) InvalidateEUI64(eui core.EUI64) int {
	n := 0
	for ip, a := range u.entries {
		if !a.Pending && a.HW.EUI64 == eui {
			delete(u.entries, ip)
			n++
		}
	}
	return n
}

// Tick ages every entry. Entries reaching zero are evicted whether pending
// or resolved; the next send re-ARPs. Pending entries due for another ARP
// request are returned in retry.
func (u *Unicast) Tick() (expired []Expired, retry []netip.Addr) {
	for ip, a := range u.entries {
		a.Timer--
		if a.Timer <= 0 {
			delete(u.entries, ip)
			expired = append(expired, Expired{IP: ip, Pending: a.Pending, Dropped: len(a.held)})
			continue
		}
		if a.Pending && u.cfg.RetryTicks > 0 {
			a.retry--
			if a.retry <= 0 {
				a.retry = u.cfg.RetryTicks
				retry = append(retry, ip)
			}
		}
	}
	return expired, retry
}

// Len returns the number of entries.
func (u *Unicast) Len() int { return len(u.entries) }

// Range calls fn for every entry until fn returns false.
func (u *Unicast) Range(fn func(*ARB) bool) {
	for _, a := range u.entries {
		if !fn(a) {
			return
		}
	}
}
