package link

import (
	"fmt"
	"net/netip"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/core/codec"
	"firestige.xyz/fwip/internal/core/resolve"
	"firestige.xyz/fwip/internal/metrics"
)

// broadcastEUI64 is the destination recorded by the tap for stream packets.
const broadcastEUI64 = core.EUI64(0xFFFF_FFFF_FFFF_FFFF)

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// SendDatagram transmits an IP datagram. An invalid dst or the IPv4 limited
// broadcast address selects the broadcast channel. A datagram to an IPv4
// address still being resolved is held until the ARP reply arrives; nil is
// returned in that case.
func (l *Link) SendDatagram(dst netip.Addr, etherType uint16, data []byte) error {
	return l.do(func() error {
		if len(data) > l.cfg.MaxDatagramSize {
			return l.fail(fmt.Errorf("%w: %d bytes, mtu %d", core.ErrDatagramTooLarge, len(data), l.cfg.MaxDatagramSize))
		}
		dst = dst.Unmap()

		var err error
		switch {
		case !dst.IsValid() || dst == limitedBroadcast:
			err = l.sendStream(l.cfg.MCAP.BroadcastChannel, l.lcb.maxBroadcastSpeed, etherType, data)
		case dst.IsMulticast():
			err = l.sendMulticast(dst, etherType, data)
		default:
			err = l.sendToIP(dst, etherType, data)
		}
		if err != nil {
			return l.fail(err)
		}
		return nil
	})
}

func (l *Link) sendMulticast(group netip.Addr, etherType uint16, data []byte) error {
	channel, speed := l.cfg.MCAP.BroadcastChannel, l.lcb.maxBroadcastSpeed
	if mb, ok := l.marbs.Lookup(group); ok {
		channel, speed = mb.Channel, mb.Speed
	}
	return l.sendStream(channel, speed, etherType, data)
}

func (l *Link) sendToIP(dst netip.Addr, etherType uint16, data []byte) error {
	arb, ok := l.arbs.Resolve(dst)
	if ok && !arb.Pending {
		return l.sendUnicast(arb.HW, etherType, data)
	}
	if !dst.Is4() {
		// IPv6 neighbors are learned from neighbor discovery, never solicited here.
		return fmt.Errorf("%w: no neighbor entry for %s", core.ErrResolutionFailed, dst)
	}

	arb, created := l.arbs.Pend(dst)
	// the caller may reuse data once we return
	if !l.arbs.Hold(arb, etherType, append([]byte(nil), data...)) {
		l.drop(reasonHoldOverflow, fmt.Errorf("hold queue full for %s", dst))
		return nil
	}
	if created {
		return l.sendARPRequest(dst)
	}
	return nil
}

// sendUnicast writes a datagram to a resolved peer's unicast FIFO.
func (l *Link) sendUnicast(hw core.HWAddr, etherType uint16, data []byte) error {
	drb, ok := l.drbs.Lookup(hw.EUI64)
	if !ok || !drb.Present {
		return fmt.Errorf("%w: device %s not on the bus", core.ErrResolutionFailed, hw.EUI64)
	}

	maxPacket := min(
		codec.MaxPayload(hw.MaxRec, hw.Speed),
		codec.MaxPayload(drb.MaxRec, drb.Speed),
		codec.MaxPayload(l.lcb.hw.MaxRec, l.lcb.hw.Speed),
	)
	frames, err := codec.Fragment(etherType, data, maxPacket-codec.FragmentHeaderLen, l.nextLabel())
	if err != nil {
		return err
	}
	if free := l.unicastTX.Capacity() - l.unicastTX.InFlight(); free < len(frames) {
		return fmt.Errorf("%w: need %d unicast descriptors, %d free", core.ErrNoDescriptorAvailable, len(frames), free)
	}

	for _, frame := range frames {
		d, err := l.unicastTX.Acquire()
		if err != nil {
			return err
		}
		if err := l.transport.SubmitUnicastWrite(drb.Device, hw.FIFO, d.Fill(frame), l.completer(l.unicastTX, d)); err != nil {
			l.unicastTX.Release(d)
			return fmt.Errorf("submit unicast write: %w", err)
		}
		l.stats.PacketsSent++
	}
	l.sent(l.lcb.hw.EUI64, hw.EUI64, etherType, data)
	return nil
}

// sendStream broadcasts a datagram as GASP packets on a channel.
func (l *Link) sendStream(channel uint8, speed core.Speed, etherType uint16, data []byte) error {
	version := codec.GASPVersionIPv4
	if etherType == core.EtherTypeIPv6 {
		version = codec.GASPVersionIPv6
	}

	budget := l.lcb.maxBroadcastPayload - codec.GASPHeaderLen - codec.FragmentHeaderLen
	frames, err := codec.Fragment(etherType, data, budget, l.nextLabel())
	if err != nil {
		return err
	}
	if free := l.streamTX.Capacity() - l.streamTX.InFlight(); free < len(frames) {
		return fmt.Errorf("%w: need %d stream descriptors, %d free", core.ErrNoDescriptorAvailable, len(frames), free)
	}

	for _, frame := range frames {
		d, err := l.streamTX.Acquire()
		if err != nil {
			return err
		}
		packet := d.Fill(codec.EncodeGASPVersion(l.lcb.nodeID, version, frame))
		if err := l.transport.SubmitAsyncStream(channel, speed, packet, l.completer(l.streamTX, d)); err != nil {
			l.streamTX.Release(d)
			return fmt.Errorf("submit async stream on channel %d: %w", channel, err)
		}
		l.stats.PacketsSent++
	}
	l.sent(l.lcb.hw.EUI64, broadcastEUI64, etherType, data)
	return nil
}

// sent accounts an outgoing datagram. ARP and MCAP are counted by their own
// handlers.
func (l *Link) sent(src, dst core.EUI64, etherType uint16, data []byte) {
	if l.tap != nil {
		l.tap.Capture(src, dst, etherType, data)
	}
	if etherType == core.EtherTypeARP || etherType == core.EtherTypeMCAP {
		return
	}
	l.stats.DatagramsSent++
	metrics.DatagramsTotal.WithLabelValues(l.name, metrics.DirectionTX).Inc()
}

// releaseHeld transmits the datagrams queued on a freshly resolved entry.
func (l *Link) releaseHeld(arb *resolve.ARB) {
	for _, h := range l.arbs.Release(arb) {
		if err := l.sendUnicast(arb.HW, h.EtherType, h.Data); err != nil {
			l.fail(err)
		}
	}
}
