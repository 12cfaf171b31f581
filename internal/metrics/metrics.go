// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Direction label values for DatagramsTotal.
const (
	DirectionTX = "tx"
	DirectionRX = "rx"
)

var (
	// DatagramsTotal counts datagrams sent and delivered per link
	DatagramsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwip_datagrams_total",
			Help: "Total number of IP datagrams crossing the link",
		},
		[]string{"link", "direction"},
	)

	// DropsTotal counts dropped packets and failed operations by reason
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwip_drops_total",
			Help: "Total number of dropped packets or failed operations by reason",
		},
		[]string{"link", "reason"},
	)

	// ARPTotal counts ARP-1394 packets by operation
	ARPTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwip_arp_total",
			Help: "Total number of ARP-1394 packets by operation",
		},
		[]string{"link", "op"},
	)

	// MCAPTotal counts MCAP messages and channel lifecycle events
	MCAPTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwip_mcap_total",
			Help: "Total number of MCAP messages and channel events by operation",
		},
		[]string{"link", "op"},
	)

	// ReassemblyActive tracks datagrams awaiting reassembly
	ReassemblyActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fwip_reassembly_active",
			Help: "Number of datagrams currently being reassembled",
		},
		[]string{"link"},
	)

	// TXInFlight tracks transmit descriptors handed to the transport
	TXInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fwip_tx_inflight",
			Help: "Number of transmit descriptors awaiting completion",
		},
		[]string{"link", "pool"},
	)

	// ChannelsOwned tracks isochronous channels this node allocated
	ChannelsOwned = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fwip_channels_owned",
			Help: "Number of multicast channels owned by the link",
		},
		[]string{"link"},
	)

	// TableEntries tracks resolution cache sizes (arb / drb / marb)
	TableEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fwip_table_entries",
			Help: "Number of entries per resolution table",
		},
		[]string{"link", "table"},
	)
)

// DeleteLink removes every series carrying the given link label.
func DeleteLink(link string) {
	l := prometheus.Labels{"link": link}
	DatagramsTotal.DeletePartialMatch(l)
	DropsTotal.DeletePartialMatch(l)
	ARPTotal.DeletePartialMatch(l)
	MCAPTotal.DeletePartialMatch(l)
	ReassemblyActive.DeletePartialMatch(l)
	TXInFlight.DeletePartialMatch(l)
	ChannelsOwned.DeletePartialMatch(l)
	TableEntries.DeletePartialMatch(l)
}
