package link

import (
	"fmt"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/core/mcap"
	"firestige.xyz/fwip/internal/metrics"
)

// Tick runs one watchdog step: it ages the ARB, DRB, MARB, RCB and MCB
// tables, retries pending ARP requests, acquires channels for groups whose
// solicitation went unanswered and performs due channel advertisements and
// releases. The caller owns the clock.
func (l *Link) Tick() error {
	return l.do(func() error {
		expired, retry := l.arbs.Tick()
		for _, e := range expired {
			if e.Pending {
				l.dropN(reasonResolutionFailed, max(e.Dropped, 1),
					fmt.Errorf("%w: no ARP reply from %s", core.ErrResolutionFailed, e.IP))
			}
		}
		for _, ip := range retry {
			l.fail(l.sendARPRequest(ip))
		}

		if gone := l.drbs.Tick(); len(gone) > 0 {
			for _, eui := range gone {
				n := l.arbs.InvalidateEUI64(eui)
				l.log.WithField("eui64", eui.String()).Debugf("device forgotten, %d ARP entries invalidated", n)
			}
			l.recomputeBroadcastLimits()
		}

		for _, mb := range l.marbs.Tick() {
			l.fail(l.acquire(mb))
		}

		if n := l.rcbs.Tick(); n > 0 {
			l.dropN(reasonReassemblyExpired, n, core.ErrReassemblyExpired)
		}

		before := make(map[uint8]mcap.MCB)
		for _, ch := range l.mcbs.Owned() {
			if m, ok := l.mcbs.Lookup(ch); ok {
				before[ch] = *m
			}
		}
		for _, ev := range l.mcbs.Tick() {
			l.handleChannelEvent(ev, before)
		}

		l.updateTableGauges()
		return nil
	})
}

// OnBusReset records our new node ID. Partial datagrams are discarded since
// their source IDs no longer mean anything, and every owned channel is
// allocated again at the IRM. A channel that cannot be regained is lost and
// its groups go back to soliciting.
func (l *Link) OnBusReset(generation uint32, nodeID core.NodeID) {
	_ = l.do(func() error {
		l.lcb.generation = generation
		l.lcb.nodeID = nodeID
		if n := l.rcbs.Flush(); n > 0 {
			l.dropN(reasonBusReset, n, nil)
		}
		l.log.WithFields(map[string]interface{}{
			"generation": generation, "node_id": nodeID.String(),
		}).Info("bus reset")

		for _, ch := range l.mcbs.Owned() {
			m, _ := l.mcbs.Lookup(ch)
			if err := l.transport.AcquireChannel(ch); err != nil {
				l.log.WithError(err).WithField("channel", ch).Warn("lost multicast channel in bus reset")
				metrics.MCAPTotal.WithLabelValues(l.name, "lost").Inc()
				l.mcbs.Remove(ch)
				l.abandon(ch, true)
				continue
			}
			exp := uint8(m.Expiration)
			if m.State == mcap.Warning {
				exp = uint8(m.FinalWarning)
			}
			l.fail(l.advertise(ch, exp))
		}
		l.updateTableGauges()
		return nil
	})
}

// DeviceArrived records a unit found on the bus.
func (l *Link) DeviceArrived(info core.DeviceInfo) {
	_ = l.do(func() error {
		_, created := l.drbs.Attach(info)
		l.recomputeBroadcastLimits()
		l.log.WithFields(map[string]interface{}{
			"eui64":   info.EUI64.String(),
			"handle":  info.Handle,
			"speed":   info.Speed.String(),
			"max_rec": info.MaxRec,
			"new":     created,
		}).Info("device arrived")
		l.updateTableGauges()
		return nil
	})
}

// DeviceRemoved forgets a unit confirmed permanently gone. Its ARP entries
// are invalidated at once instead of after the grace period.
func (l *Link) DeviceRemoved(eui core.EUI64) {
	_ = l.do(func() error {
		if !l.drbs.Remove(eui) {
			return nil
		}
		n := l.arbs.InvalidateEUI64(eui)
		l.recomputeBroadcastLimits()
		l.log.WithFields(map[string]interface{}{
			"eui64": eui.String(), "arbs": n,
		}).Info("device removed")
		l.updateTableGauges()
		return nil
	})
}

// DeviceDeparted starts the grace period of a unit that left the bus. Its
// ARP entries survive until the grace period ends.
func (l *Link) DeviceDeparted(eui core.EUI64) {
	_ = l.do(func() error {
		if l.drbs.Detach(eui) {
			l.recomputeBroadcastLimits()
			l.log.WithField("eui64", eui.String()).Info("device departed")
		}
		return nil
	})
}
