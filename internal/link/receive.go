package link

import (
	"fmt"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/core/codec"
	"firestige.xyz/fwip/internal/core/reassembly"
	"firestige.xyz/fwip/internal/metrics"
)

// OnUnicastBlockWrite handles a block write from src into our address space.
// Writes outside the unicast FIFO are not ours and are dropped.
func (l *Link) OnUnicastBlockWrite(src core.NodeID, addr uint64, data []byte) {
	_ = l.do(func() error {
		if addr != l.lcb.hw.FIFO {
			l.drop(reasonNotForUs, fmt.Errorf("write to %#x from %s", addr, src))
			return nil
		}
		l.input(src, data)
		return nil
	})
}

// OnAsyncStreamPacket handles a GASP packet received on channel.
func (l *Link) OnAsyncStreamPacket(channel uint8, data []byte) {
	_ = l.do(func() error {
		if !l.receivesOn(channel) {
			l.drop(reasonNotForUs, fmt.Errorf("stream packet on channel %d", channel))
			return nil
		}
		src, inner, err := codec.DecodeGASP(data, l.lcb.nodeID)
		if err != nil {
			l.fail(err)
			return nil
		}
		if src == l.lcb.nodeID {
			return nil
		}
		l.input(src, inner)
		return nil
	})
}

func (l *Link) receivesOn(channel uint8) bool {
	if channel == l.cfg.MCAP.BroadcastChannel {
		return true
	}
	if _, ok := l.mcbs.Lookup(channel); ok {
		return true
	}
	return len(l.marbs.Bound(channel)) > 0
}

// input decodes the encapsulation, reassembles and dispatches.
func (l *Link) input(src core.NodeID, packet []byte) {
	f, err := codec.DecodeEncapsulation(packet)
	if err != nil {
		l.fail(err)
		return
	}
	// the transport may reuse its buffer once we return
	if f.Kind == codec.Unfragmented {
		f.Payload = append([]byte(nil), f.Payload...)
	}
	dg, complete, err := l.rcbs.Input(src, f)
	if err != nil {
		l.fail(err)
		return
	}
	if complete {
		l.dispatch(src, dg)
	}
}

func (l *Link) dispatch(src core.NodeID, dg reassembly.Datagram) {
	switch dg.EtherType {
	case core.EtherTypeARP:
		l.onARP(src, dg.Data)
	case core.EtherTypeMCAP:
		l.onMCAP(src, dg.Data)
	case core.EtherTypeIPv6:
		l.learnNDP(dg.Data)
		l.deliver(dg)
	case core.EtherTypeIPv4:
		l.deliver(dg)
	default:
		l.fail(fmt.Errorf("%w: ethertype %#04x from %s", core.ErrUnknownProtocol, dg.EtherType, src))
	}
}

// deliver hands a datagram to the upper layer once the lock is released.
func (l *Link) deliver(dg reassembly.Datagram) {
	l.stats.DatagramsDelivered++
	metrics.DatagramsTotal.WithLabelValues(l.name, metrics.DirectionRX).Inc()
	if l.tap != nil {
		l.tap.Capture(0, l.lcb.hw.EUI64, dg.EtherType, dg.Data)
	}
	upper := l.upper
	l.upcall(func() { upper.DeliverDatagram(dg.EtherType, dg.Data) })
}
