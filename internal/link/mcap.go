package link

import (
	"fmt"
	"net/netip"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/core/codec"
	"firestige.xyz/fwip/internal/core/mcap"
	"firestige.xyz/fwip/internal/core/resolve"
	"firestige.xyz/fwip/internal/metrics"
)

// JoinMulticast subscribes to a group. The first join of a group solicits
// its channel; until an advertisement arrives the group is carried on the
// broadcast channel.
func (l *Link) JoinMulticast(group netip.Addr) error {
	group = group.Unmap()
	if !group.IsMulticast() {
		return fmt.Errorf("%w: %s is not a multicast group", core.ErrConfigInvalid, group)
	}
	return l.do(func() error {
		mb, created := l.marbs.Join(group, l.lcb.maxBroadcastSpeed)
		if !created {
			return nil
		}
		if m, ok := l.mcbs.ChannelOf(group); ok {
			// already known from an earlier advertisement
			l.bind(mb, m.Channel, min(m.Speed, l.lcb.hw.Speed))
			return nil
		}
		return l.fail(l.solicit(mb))
	})
}

// LeaveMulticast drops a subscription. An owned channel with no members left
// stops renewing and is released after its final warnings.
func (l *Link) LeaveMulticast(group netip.Addr) error {
	group = group.Unmap()
	return l.do(func() error {
		mb, removed := l.marbs.Leave(group)
		if !removed {
			return nil
		}
		l.channelVacated(mb.Channel)
		return nil
	})
}

// solicit asks the channel owner of a group to advertise.
func (l *Link) solicit(mb *resolve.MARB) error {
	mb.SolicitTimer = l.cfg.MCAP.SolicitTicks
	msg := codec.MCAPMessage{
		Op: codec.MCAPSolicit,
		Descriptors: []codec.GroupDescriptor{{
			Channel: l.cfg.MCAP.BroadcastChannel,
			Speed:   mb.Speed,
			Group:   mb.Group,
		}},
	}
	return l.sendMCAP(&msg)
}

// advertise announces the groups carried on an owned channel.
func (l *Link) advertise(channel uint8, expiration uint8) error {
	m, ok := l.mcbs.Lookup(channel)
	if !ok {
		return nil
	}
	return l.advertiseMCB(m, expiration)
}

// advertiseMCB announces the groups of m, which may already be gone from
// the table when its final warning is sent.
func (l *Link) advertiseMCB(m *mcap.MCB, expiration uint8) error {
	if len(m.Groups) == 0 {
		return nil
	}
	channel := m.Channel
	msg := codec.MCAPMessage{Op: codec.MCAPAdvertise}
	for _, g := range m.Groups {
		msg.Descriptors = append(msg.Descriptors, codec.GroupDescriptor{
			Expiration: expiration,
			Channel:    channel,
			Speed:      m.Speed,
			Group:      g,
		})
	}
	return l.sendMCAP(&msg)
}

func (l *Link) sendMCAP(msg *codec.MCAPMessage) error {
	if err := l.sendStream(l.cfg.MCAP.BroadcastChannel, l.lcb.maxBroadcastSpeed, core.EtherTypeMCAP, msg.Marshal()); err != nil {
		return err
	}
	l.stats.MCAPSent++
	metrics.MCAPTotal.WithLabelValues(l.name, "tx_"+msg.Op.String()).Inc()
	return nil
}

func (l *Link) onMCAP(src core.NodeID, data []byte) {
	msg, err := codec.DecodeMCAP(data)
	if err != nil {
		l.fail(err)
		return
	}
	l.stats.MCAPReceived++
	metrics.MCAPTotal.WithLabelValues(l.name, "rx_"+msg.Op.String()).Inc()

	switch msg.Op {
	case codec.MCAPAdvertise:
		l.onAdvertise(src, msg.Descriptors)
	case codec.MCAPSolicit:
		l.onSolicit(msg.Descriptors)
	default:
		l.fail(fmt.Errorf("%w: MCAP opcode %d", core.ErrUnknownProtocol, msg.Op))
	}
}

func (l *Link) onAdvertise(src core.NodeID, descs []codec.GroupDescriptor) {
	for _, d := range descs {
		mb, ok := l.marbs.Lookup(d.Group)
		if !ok || d.Channel >= core.ChannelCount || d.Channel == l.cfg.MCAP.BroadcastChannel {
			continue
		}

		if d.Expiration == 0 {
			// the owner gave the channel up; ask for a new one
			if mb.Channel == d.Channel {
				old := mb.Channel
				l.marbs.Unbind(mb, l.lcb.maxBroadcastSpeed)
				l.mcbs.RemoveGroup(old, mb.Group)
				l.channelVacated(old)
				l.fail(l.solicit(mb))
			}
			continue
		}

		if cur, ok := l.mcbs.Lookup(mb.Channel); ok && mb.Channel != d.Channel &&
			cur.State != mcap.Unowned && src < l.lcb.nodeID {
			// we carry the group on our own channel and have priority
			cur.NextTransmit = 1
			continue
		}
		if !l.mcbs.Contest(d.Channel, src, l.lcb.nodeID, d.Expiration) {
			continue
		}
		m, surrendered := l.mcbs.Adopt(d.Channel, src, d.Expiration, d.Speed)
		l.mcbs.AddGroup(d.Channel, d.Group)
		if surrendered {
			l.log.WithFields(map[string]interface{}{
				"channel": d.Channel, "owner": src.String(),
			}).Info("yielding multicast channel")
			metrics.MCAPTotal.WithLabelValues(l.name, "yield").Inc()
		}
		if mb.Channel != d.Channel {
			l.bind(mb, d.Channel, min(m.Speed, l.lcb.hw.Speed))
		}
	}
	l.updateTableGauges()
}

// onSolicit answers for every requested group carried on a channel we own.
func (l *Link) onSolicit(descs []codec.GroupDescriptor) {
	done := make(map[uint8]bool)
	for _, d := range descs {
		m, ok := l.mcbs.ChannelOf(d.Group)
		if !ok || m.State == mcap.Unowned || done[m.Channel] {
			continue
		}
		done[m.Channel] = true
		exp := uint8(m.Expiration)
		if m.State == mcap.Warning {
			exp = uint8(m.FinalWarning)
		}
		l.fail(l.advertise(m.Channel, exp))
	}
}

// bind moves a group onto a channel and starts listening there.
func (l *Link) bind(mb *resolve.MARB, channel uint8, speed core.Speed) {
	old := mb.Channel
	l.marbs.Rebind(mb, channel, speed)
	if err := l.transport.Listen(channel); err != nil {
		l.log.WithError(err).WithField("channel", channel).Warn("listen on multicast channel failed")
	}
	l.mcbs.SetMembers(channel, len(l.marbs.Bound(channel)))
	if old != channel {
		l.mcbs.RemoveGroup(old, mb.Group)
		l.channelVacated(old)
	}
}

// channelVacated refreshes membership of a channel after a group left it and
// stops listening on an adopted channel nobody here uses any more.
func (l *Link) channelVacated(channel uint8) {
	if channel == l.cfg.MCAP.BroadcastChannel {
		return
	}
	members := len(l.marbs.Bound(channel))
	l.mcbs.SetMembers(channel, members)
	if members > 0 {
		return
	}
	m, ok := l.mcbs.Lookup(channel)
	if ok && m.State != mcap.Unowned {
		return // the lease runs out and the channel is released on its own
	}
	if ok {
		l.mcbs.Remove(channel)
	}
	l.transport.Unlisten(channel)
}

// acquire allocates a channel for a group nobody advertised.
func (l *Link) acquire(mb *resolve.MARB) error {
	for ch := uint8(0); ch < core.ChannelCount; ch++ {
		if ch == l.cfg.MCAP.BroadcastChannel || ch == core.StreamBroadcastChannel {
			continue
		}
		if _, used := l.mcbs.Lookup(ch); used {
			continue
		}
		if err := l.transport.AcquireChannel(ch); err != nil {
			continue
		}

		speed := mb.Speed
		l.mcbs.Own(ch, speed, 0)
		l.mcbs.AddGroup(ch, mb.Group)
		l.bind(mb, ch, speed)
		l.stats.ChannelsAcquired++
		metrics.MCAPTotal.WithLabelValues(l.name, "acquire").Inc()
		l.log.WithFields(map[string]interface{}{
			"channel": ch, "group": mb.Group.String(),
		}).Info("acquired multicast channel")
		l.fail(l.advertise(ch, uint8(l.cfg.MCAP.LeaseTicks)))
		l.updateTableGauges()
		return nil
	}

	// try again after another solicit period
	mb.SolicitTimer = l.cfg.MCAP.SolicitTicks
	return fmt.Errorf("%w: group %s stays on channel %d", core.ErrNoChannelAvailable, mb.Group, mb.Channel)
}

// handleChannelEvent performs what the MCB watchdog decided. before holds
// the owned MCBs as they were ahead of the tick.
func (l *Link) handleChannelEvent(ev mcap.Event, before map[uint8]mcap.MCB) {
	switch ev.Action {
	case mcap.Advertise:
		if m, ok := before[ev.Channel]; ok {
			l.fail(l.advertiseMCB(&m, ev.Expiration))
		}

	case mcap.Release:
		l.transport.ReleaseChannel(ev.Channel)
		l.stats.ChannelsReleased++
		metrics.MCAPTotal.WithLabelValues(l.name, "release").Inc()
		l.log.WithField("channel", ev.Channel).Info("released multicast channel")
		l.abandon(ev.Channel, false)

	case mcap.Expire:
		metrics.MCAPTotal.WithLabelValues(l.name, "expire").Inc()
		l.log.WithField("channel", ev.Channel).Debug("multicast channel lease expired")
		l.abandon(ev.Channel, true)
	}
}

// abandon stops using a channel: its groups go back to the broadcast
// channel and, when resolicit is set, ask for a new one.
func (l *Link) abandon(channel uint8, resolicit bool) {
	l.transport.Unlisten(channel)
	for _, mb := range l.marbs.Bound(channel) {
		l.marbs.Unbind(mb, l.lcb.maxBroadcastSpeed)
		if resolicit {
			l.fail(l.solicit(mb))
		}
	}
	l.updateTableGauges()
}
