package daemon

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/log"
)

// probePort is the UDP port of generated traffic (discard).
const probePort = layers.UDPPort(9)

// Every other probe is large enough to be fragmented on any link.
const (
	smallProbe = 64
	largeProbe = 3000
)

// buildProbe serializes an IPv4/UDP datagram carrying seq.
func buildProbe(src, dst netip.Addr, seq uint32) ([]byte, error) {
	ttl := uint8(64)
	if dst.IsMulticast() {
		ttl = 1
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	udp := &layers.UDP{SrcPort: probePort, DstPort: probePort}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	size := smallProbe
	if seq%2 == 0 {
		size = largeProbe
	}
	body := make([]byte, size)
	binary.BigEndian.PutUint32(body, seq)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(body)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sendTraffic makes every node probe the next node and its own groups.
func (d *Daemon) sendTraffic(seq uint32) {
	if len(d.nodes) < 2 {
		return
	}
	for i, n := range d.nodes {
		dsts := append([]netip.Addr{d.nodes[(i+1)%len(d.nodes)].cfg.IPv4}, n.cfg.Groups...)
		for _, dst := range dsts {
			data, err := buildProbe(n.cfg.IPv4, dst, seq)
			if err != nil {
				log.GetLogger().WithError(err).Error("failed to build probe")
				return
			}
			if err := n.link.SendDatagram(dst, core.EtherTypeIPv4, data); err != nil {
				log.GetLogger().WithError(err).WithFields(map[string]interface{}{
					"link": n.cfg.Name, "dst": dst.String(),
				}).Debug("probe not sent")
			}
		}
	}
}
