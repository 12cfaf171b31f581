package link

import (
	"net/netip"

	"firestige.xyz/fwip/internal/bus"
	"firestige.xyz/fwip/internal/config"
	"firestige.xyz/fwip/internal/core"
)

// Tap observes datagrams crossing the link.
type Tap interface {
	Capture(src, dst core.EUI64, etherType uint16, data []byte)
}

// Options configures a Link.
type Options struct {
	Name    string
	EUI64   core.EUI64
	MaxRec  uint8
	Speed   core.Speed
	Address netip.Addr // optional, see SetAddress

	Config config.LinkConfig

	Transport bus.Transport
	Upper     bus.Upper
	Tap       Tap // optional
}

// withDefaults fills zero fields with the values `fwip validate` would
// apply, so callers may pass a partial LinkConfig.
func withDefaults(c config.LinkConfig) config.LinkConfig {
	def := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&c.MaxDatagramSize, 4096)
	def(&c.ARP.LifetimeTicks, 600)
	def(&c.ARP.PendingTicks, 5)
	def(&c.ARP.HoldQueue, 4)
	def(&c.Device.GraceTicks, 30)
	def(&c.Reassembly.TimeoutTicks, 5)
	def(&c.Reassembly.MaxActive, 64)
	def(&c.MCAP.LeaseTicks, 60)
	def(&c.MCAP.AdvertiseInterval, 10)
	def(&c.MCAP.FinalWarnings, 4)
	def(&c.MCAP.SolicitTicks, 10)
	def(&c.TX.UnicastDescriptors, 32)
	def(&c.TX.StreamDescriptors, 16)
	if c.UnicastFIFO == 0 {
		c.UnicastFIFO = 0x0001_0000_0000
	}
	if c.MCAP.BroadcastChannel == 0 {
		c.MCAP.BroadcastChannel = core.DefaultBroadcastChannel
	}
	return c
}
