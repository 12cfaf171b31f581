package link

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/fwip/internal/core/codec"
)

// NDPOption returns our link-layer address option for IPv6 neighbor
// discovery, typ being codec.NDPOptionSourceLinkAddr or
// codec.NDPOptionTargetLinkAddr.
func (l *Link) NDPOption(typ uint8) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return codec.EncodeNDPOption(typ, l.lcb.hw)
}

// learnNDP refreshes neighbor entries from the 1394 link-layer options of
// an inbound neighbor discovery message.
func (l *Link) learnNDP(datagram []byte) {
	pkt := gopacket.NewPacket(datagram, layers.LayerTypeIPv6, gopacket.NoCopy)
	ip6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	if !ok {
		return
	}
	src, _ := netip.AddrFromSlice(ip6.SrcIP)

	var (
		subject netip.Addr
		options layers.ICMPv6Options
		want    layers.ICMPv6Opt
	)
	for _, layer := range pkt.Layers() {
		switch m := layer.(type) {
		case *layers.ICMPv6NeighborSolicitation:
			subject, options, want = src, m.Options, layers.ICMPv6OptSourceAddress
		case *layers.ICMPv6NeighborAdvertisement:
			subject, _ = netip.AddrFromSlice(m.TargetAddress)
			options, want = m.Options, layers.ICMPv6OptTargetAddress
		case *layers.ICMPv6RouterSolicitation:
			subject, options, want = src, m.Options, layers.ICMPv6OptSourceAddress
		case *layers.ICMPv6RouterAdvertisement:
			subject, options, want = src, m.Options, layers.ICMPv6OptSourceAddress
		}
	}
	if !subject.IsValid() || subject.IsUnspecified() {
		return
	}

	for _, opt := range options {
		if opt.Type != want {
			continue
		}
		hw, err := codec.DecodeNDPOptionData(opt.Data)
		if err != nil {
			l.fail(err)
			return
		}
		if hw.EUI64 == l.lcb.hw.EUI64 {
			return
		}
		l.learn(subject, hw)
		return
	}
}
