package link

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fwip/internal/config"
	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/core/codec"
)

// neighborAdvertisement builds an unsolicited NA for target carrying the
// 1394 target link-layer option opt.
func neighborAdvertisement(t *testing.T, target netip.Addr, opt []byte) []byte {
	t.Helper()
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      net.IP(target.AsSlice()),
		DstIP:      net.ParseIP("ff02::1"),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0),
	}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip6))
	na := &layers.ICMPv6NeighborAdvertisement{
		Flags:         0x20, // override
		TargetAddress: net.IP(target.AsSlice()),
		Options: layers.ICMPv6Options{{
			Type: layers.ICMPv6OptTargetAddress,
			Data: opt[2:], // type and length are written by the layer
		}},
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip6, icmp, na))
	return buf.Bytes()
}

func TestNDPAdvertisementIsLearned(t *testing.T) {
	tb := newTestBus(t, config.LinkConfig{}, nodeA, nodeB)
	a, b := tb.nodes[0], tb.nodes[1]
	linkLocal := netip.MustParseAddr("fe80::211:2233:4455:6602")

	opt := b.link.NDPOption(codec.NDPOptionTargetLinkAddr)
	require.Len(t, opt, codec.NDPOptionLen)
	assert.Equal(t, codec.NDPOptionTargetLinkAddr, opt[0])

	na := neighborAdvertisement(t, linkLocal, opt)
	require.NoError(t, b.link.SendDatagram(netip.Addr{}, core.EtherTypeIPv6, na))
	tb.sim.Drain()

	got := a.upper.Datagrams()
	require.Len(t, got, 1)
	assert.Equal(t, core.EtherTypeIPv6, got[0].etherType)

	hw, ok := a.upper.Resolved(linkLocal)
	require.True(t, ok)
	assert.Equal(t, b.link.HWAddr(), hw)

	// the learned neighbor is now reachable by unicast
	require.NoError(t, a.link.SendDatagram(linkLocal, core.EtherTypeIPv6, []byte("v6 unicast")))
	tb.sim.Drain()
	delivered := b.upper.Datagrams()
	require.Len(t, delivered, 1)
	assert.Equal(t, "v6 unicast", string(delivered[0].data))
}

func TestNDPIgnoresOwnAddress(t *testing.T) {
	tb := newTestBus(t, config.LinkConfig{}, nodeA, nodeB)
	a, b := tb.nodes[0], tb.nodes[1]
	linkLocal := netip.MustParseAddr("fe80::1")

	// b relays an advertisement naming a's own hardware address
	na := neighborAdvertisement(t, linkLocal, a.link.NDPOption(codec.NDPOptionTargetLinkAddr))
	require.NoError(t, b.link.SendDatagram(netip.Addr{}, core.EtherTypeIPv6, na))
	tb.sim.Drain()

	_, ok := a.upper.Resolved(linkLocal)
	assert.False(t, ok)
	assert.Len(t, a.upper.Datagrams(), 1)
}
