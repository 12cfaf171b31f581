package link

import (
	"net/netip"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/core/codec"
	"firestige.xyz/fwip/internal/metrics"
)

func (l *Link) buildRequest(target netip.Addr) codec.ARP {
	return codec.ARP{
		Op:       codec.ARPRequest,
		Sender:   l.lcb.hw,
		SenderIP: l.lcb.ip,
		TargetIP: target,
	}
}

func (l *Link) buildResponse(req *codec.ARP) codec.ARP {
	return codec.ARP{
		Op:       codec.ARPReply,
		Sender:   l.lcb.hw,
		SenderIP: l.lcb.ip,
		TargetIP: req.SenderIP,
	}
}

// sendARPRequest broadcasts a request for target.
func (l *Link) sendARPRequest(target netip.Addr) error {
	if !l.lcb.ip.IsValid() {
		return nil // nothing to put in the sender field yet; the retry will ask again
	}
	req := l.buildRequest(target)
	return l.sendARP(&req, nil)
}

// announce broadcasts a gratuitous ARP for our own address.
func (l *Link) announce() {
	ann := l.buildRequest(l.lcb.ip)
	l.fail(l.sendARP(&ann, nil))
}

// sendARP transmits an ARP packet, unicast to dst when given and present,
// otherwise on the broadcast channel.
func (l *Link) sendARP(a *codec.ARP, dst *core.HWAddr) error {
	var err error
	if dst != nil {
		if _, ok := l.drbs.DeviceForEUI64(dst.EUI64); ok {
			err = l.sendUnicast(*dst, core.EtherTypeARP, a.Marshal())
		} else {
			dst = nil
		}
	}
	if dst == nil {
		err = l.sendStream(l.cfg.MCAP.BroadcastChannel, l.lcb.maxBroadcastSpeed, core.EtherTypeARP, a.Marshal())
	}
	if err != nil {
		return err
	}
	l.stats.ARPSent++
	metrics.ARPTotal.WithLabelValues(l.name, "tx_"+a.Op.String()).Inc()
	return nil
}

// onARP learns the sender of every valid ARP-1394 packet and answers
// requests for our address.
func (l *Link) onARP(src core.NodeID, data []byte) {
	a, err := codec.DecodeARP(data)
	if err != nil {
		l.fail(err)
		return
	}
	l.stats.ARPReceived++
	metrics.ARPTotal.WithLabelValues(l.name, "rx_"+a.Op.String()).Inc()

	if a.Sender.EUI64 == l.lcb.hw.EUI64 {
		// our own announcement echoed back, possibly from another interface
		if a.Gratuitous() && a.SenderIP.IsValid() && !a.SenderIP.IsUnspecified() {
			l.lcb.ip = a.SenderIP
		}
		return
	}

	switch {
	case a.SenderIP.IsUnspecified():
		// probe from a node without an address
	case a.SenderIP == l.lcb.ip:
		l.log.WithFields(map[string]interface{}{
			"ip": a.SenderIP.String(), "eui64": a.Sender.EUI64.String(), "src": src.String(),
		}).Warn("address conflict: peer claims our IPv4 address")
	default:
		l.learn(a.SenderIP, a.Sender)
	}

	if a.Op == codec.ARPRequest && !a.Gratuitous() && l.lcb.ip.IsValid() && a.TargetIP == l.lcb.ip {
		resp := l.buildResponse(&a)
		sender := a.Sender
		l.fail(l.sendARP(&resp, &sender))
	}
}

// learn records a resolution, flushes the datagrams waiting on it and tells
// the upper layer.
func (l *Link) learn(ip netip.Addr, hw core.HWAddr) {
	arb := l.arbs.Learn(ip, hw)
	l.releaseHeld(arb)
	upper := l.upper
	l.upcall(func() { upper.DeliverARPResolution(ip, hw) })
}
