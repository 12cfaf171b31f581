package link

import (
	"errors"
	"maps"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/metrics"
)

// Drop reasons, used as Stats.Drops keys and the fwip_drops_total reason label.
const (
	reasonMalformed         = "malformed"
	reasonOrphanFragment    = "orphan_fragment"
	reasonUnknownProtocol   = "unknown_protocol"
	reasonResolutionFailed  = "resolution_failed"
	reasonHoldOverflow      = "hold_overflow"
	reasonNoDescriptor      = "no_descriptor"
	reasonNoChannel         = "no_channel"
	reasonTooLarge          = "too_large"
	reasonReassemblyExpired = "reassembly_expired"
	reasonBusReset          = "bus_reset"
	reasonNotForUs          = "not_for_us"
	reasonTXError           = "tx_error"
)

// Stats is a snapshot of a link's counters and table sizes.
type Stats struct {
	DatagramsSent      uint64
	DatagramsDelivered uint64
	PacketsSent        uint64 // bus packets, one per fragment
	ARPSent            uint64
	ARPReceived        uint64
	MCAPSent           uint64
	MCAPReceived       uint64
	ChannelsAcquired   uint64
	ChannelsReleased   uint64

	// Drops counts every dropped packet or failed operation by reason.
	Drops map[string]uint64

	ARBs, DRBs, MARBs, RCBs, MCBs int
	ChannelsOwned                 int
	UnicastInFlight               int
	StreamInFlight                int

	NodeID     core.NodeID
	Generation uint32
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.reap()
	}
	s := l.stats
	s.Drops = maps.Clone(l.stats.Drops)
	s.ARBs = l.arbs.Len()
	s.DRBs = l.drbs.Len()
	s.MARBs = l.marbs.Len()
	s.RCBs = l.rcbs.Len()
	s.MCBs = l.mcbs.Len()
	s.ChannelsOwned = len(l.mcbs.Owned())
	s.UnicastInFlight = l.unicastTX.InFlight()
	s.StreamInFlight = l.streamTX.InFlight()
	s.NodeID = l.lcb.nodeID
	s.Generation = l.lcb.generation
	return s
}

// reasonOf classifies an error into a drop reason.
func reasonOf(err error) string {
	switch {
	case errors.Is(err, core.ErrOrphanFragment):
		return reasonOrphanFragment
	case errors.Is(err, core.ErrMalformedPacket):
		return reasonMalformed
	case errors.Is(err, core.ErrUnknownProtocol):
		return reasonUnknownProtocol
	case errors.Is(err, core.ErrResolutionFailed):
		return reasonResolutionFailed
	case errors.Is(err, core.ErrNoDescriptorAvailable):
		return reasonNoDescriptor
	case errors.Is(err, core.ErrNoChannelAvailable):
		return reasonNoChannel
	case errors.Is(err, core.ErrDatagramTooLarge):
		return reasonTooLarge
	case errors.Is(err, core.ErrReassemblyExpired):
		return reasonReassemblyExpired
	}
	return reasonTXError
}

// fail counts err under its reason and returns it.
func (l *Link) fail(err error) error {
	if err != nil {
		l.drop(reasonOf(err), err)
	}
	return err
}

// drop counts one dropped packet or failed operation.
func (l *Link) drop(reason string, err error) {
	l.dropN(reason, 1, err)
}

func (l *Link) dropN(reason string, n int, err error) {
	if n <= 0 {
		return
	}
	l.stats.Drops[reason] += uint64(n)
	metrics.DropsTotal.WithLabelValues(l.name, reason).Add(float64(n))
	if l.log.IsDebugEnabled() {
		entry := l.log.WithField("reason", reason)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Debugf("dropped %d", n)
	}
}

// updateTableGauges exports the table sizes.
func (l *Link) updateTableGauges() {
	metrics.TableEntries.WithLabelValues(l.name, "arb").Set(float64(l.arbs.Len()))
	metrics.TableEntries.WithLabelValues(l.name, "drb").Set(float64(l.drbs.Len()))
	metrics.TableEntries.WithLabelValues(l.name, "marb").Set(float64(l.marbs.Len()))
	metrics.ChannelsOwned.WithLabelValues(l.name).Set(float64(len(l.mcbs.Owned())))
}
