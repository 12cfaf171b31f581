package daemon

import (
	"net/netip"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/log"
)

// stack stands in for the network stack above a simulated link. It decodes
// what it is given, counts it and logs it.
type stack struct {
	log log.Logger

	mu       sync.Mutex
	received uint64
	probes   uint64
	resolved map[netip.Addr]core.HWAddr
}

func newStack(name string) *stack {
	return &stack{
		log:      log.GetLogger().WithField("stack", name),
		resolved: make(map[netip.Addr]core.HWAddr),
	}
}

// DeliverDatagram implements bus.Upper.
func (s *stack) DeliverDatagram(etherType uint16, data []byte) {
	var first gopacket.LayerType
	switch etherType {
	case core.EtherTypeIPv4:
		first = layers.LayerTypeIPv4
	case core.EtherTypeIPv6:
		first = layers.LayerTypeIPv6
	default:
		return
	}
	pkt := gopacket.NewPacket(data, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	udp, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	probe := udp != nil && udp.DstPort == probePort

	s.mu.Lock()
	s.received++
	if probe {
		s.probes++
	}
	s.mu.Unlock()

	if s.log.IsDebugEnabled() {
		if nl := pkt.NetworkLayer(); nl != nil {
			flow := nl.NetworkFlow()
			s.log.WithFields(map[string]interface{}{
				"src": flow.Src().String(), "dst": flow.Dst().String(), "len": len(data), "probe": probe,
			}).Debug("datagram received")
		}
	}
}

// DeliverARPResolution implements bus.Upper.
func (s *stack) DeliverARPResolution(ip netip.Addr, hw core.HWAddr) {
	s.mu.Lock()
	s.resolved[ip] = hw
	s.mu.Unlock()
	s.log.WithFields(map[string]interface{}{
		"ip": ip.String(), "eui64": hw.EUI64.String(),
	}).Debug("neighbor resolved")
}

func (s *stack) counters() (received, probes uint64, resolved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.probes, len(s.resolved)
}
