// Package link runs IP over one IEEE 1394 bus interface: it resolves
// addresses, fragments and reassembles datagrams, answers ARP-1394,
// negotiates multicast channels and ages every cache on the watchdog tick.
//
// All state of a link is serialized behind one lock. Transport completions
// are queued and processed at the next operation, and upcalls to the network
// stack run after the lock is released, so either side may call back into
// the link.
package link

import (
	"fmt"
	"net/netip"
	"sync"

	"firestige.xyz/fwip/internal/bus"
	"firestige.xyz/fwip/internal/config"
	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/core/codec"
	"firestige.xyz/fwip/internal/core/mcap"
	"firestige.xyz/fwip/internal/core/reassembly"
	"firestige.xyz/fwip/internal/core/resolve"
	"firestige.xyz/fwip/internal/core/txpool"
	"firestige.xyz/fwip/internal/log"
	"firestige.xyz/fwip/internal/metrics"
)

// unassignedNodeID is used until the first bus reset names us.
var unassignedNodeID = core.NewNodeID(63)

// lcb is the link control block: our own identity on the bus.
type lcb struct {
	hw         core.HWAddr
	ip         netip.Addr
	nodeID     core.NodeID
	generation uint32

	// Lowest common denominator of every present node, ourselves included.
	maxBroadcastPayload int
	maxBroadcastSpeed   core.Speed

	label uint16
}

// completion is a finished transmit waiting to return its descriptor.
type completion struct {
	pool *txpool.Pool
	desc *txpool.Descriptor
	err  error
}

// Link is one IP-over-1394 interface.
type Link struct {
	mu sync.Mutex

	name      string
	cfg       config.LinkConfig
	transport bus.Transport
	upper     bus.Upper
	tap       Tap
	log       log.Logger

	lcb   lcb
	arbs  *resolve.Unicast
	drbs  *resolve.Devices
	marbs *resolve.Multicast
	rcbs  *reassembly.Engine
	mcbs  *mcap.Table

	unicastTX *txpool.Pool
	streamTX  *txpool.Pool

	completions chan completion
	upcalls     []func()
	stats       Stats

	started bool
	closed  bool
}

// New creates a link. It sends nothing until Start.
func New(opts Options) (*Link, error) {
	if opts.Transport == nil || opts.Upper == nil {
		return nil, fmt.Errorf("%w: link needs a transport and an upper layer", core.ErrConfigInvalid)
	}
	if opts.EUI64 == 0 {
		return nil, fmt.Errorf("%w: link needs an EUI-64", core.ErrConfigInvalid)
	}
	if opts.Address.IsValid() && !opts.Address.Unmap().Is4() {
		return nil, fmt.Errorf("%w: link address %s is not IPv4", core.ErrConfigInvalid, opts.Address)
	}
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("fw-%s", opts.EUI64)
	}
	if opts.MaxRec == 0 {
		opts.MaxRec = 10
	}
	cfg := withDefaults(opts.Config)

	l := &Link{
		name:      opts.Name,
		cfg:       cfg,
		transport: opts.Transport,
		upper:     opts.Upper,
		tap:       opts.Tap,
		log:       log.GetLogger().WithField("link", opts.Name),
		lcb: lcb{
			hw: core.HWAddr{
				EUI64:  opts.EUI64,
				MaxRec: opts.MaxRec,
				Speed:  opts.Speed,
				FIFO:   cfg.UnicastFIFO,
			},
			ip:     opts.Address.Unmap(),
			nodeID: unassignedNodeID,
		},
		arbs: resolve.NewUnicast(resolve.UnicastConfig{
			Lifetime:        cfg.ARP.LifetimeTicks,
			PendingLifetime: cfg.ARP.PendingTicks,
			RetryTicks:      cfg.ARP.RetryTicks,
			HoldQueue:       cfg.ARP.HoldQueue,
		}),
		drbs:  resolve.NewDevices(cfg.Device.GraceTicks),
		marbs: resolve.NewMulticast(cfg.MCAP.BroadcastChannel),
		rcbs: reassembly.New(reassembly.Config{
			TimeoutTicks: cfg.Reassembly.TimeoutTicks,
			MaxActive:    cfg.Reassembly.MaxActive,
			MaxDatagram:  cfg.MaxDatagramSize,
		}),
		mcbs: mcap.New(mcap.Config{
			Lease:             cfg.MCAP.LeaseTicks,
			AdvertiseInterval: cfg.MCAP.AdvertiseInterval,
			FinalWarnings:     cfg.MCAP.FinalWarnings,
		}),
		unicastTX: txpool.New("unicast", cfg.TX.UnicastDescriptors, codec.MaxPayload(opts.MaxRec, opts.Speed)),
		streamTX:  txpool.New("stream", cfg.TX.StreamDescriptors, codec.MaxPayload(opts.MaxRec, opts.Speed)),
		completions: make(chan completion, cfg.TX.UnicastDescriptors+cfg.TX.StreamDescriptors),
		stats:       Stats{Drops: make(map[string]uint64)},
	}
	l.recomputeBroadcastLimits()

	l.rcbs.OnLenChange(func(n int) {
		metrics.ReassemblyActive.WithLabelValues(l.name).Set(float64(n))
	})
	for _, p := range []*txpool.Pool{l.unicastTX, l.streamTX} {
		gauge := metrics.TXInFlight.WithLabelValues(l.name, p.Name())
		p.OnChange(func(n int) { gauge.Set(float64(n)) })
	}
	return l, nil
}

// Name returns the link name.
func (l *Link) Name() string { return l.name }

// Start listens on the broadcast channel and announces our address when one
// is configured.
func (l *Link) Start() error {
	return l.do(func() error {
		if l.started {
			return nil
		}
		if err := l.transport.Listen(l.cfg.MCAP.BroadcastChannel); err != nil {
			return fmt.Errorf("listen on broadcast channel: %w", err)
		}
		l.started = true
		l.log.WithFields(map[string]interface{}{
			"eui64": l.lcb.hw.EUI64.String(),
			"ip":    l.lcb.ip.String(),
		}).Info("link started")
		if l.lcb.ip.IsValid() {
			l.announce()
		}
		return nil
	})
}

// Close releases every owned channel and stops listening. Later operations
// fail with ErrLinkClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.reap()

	for _, ch := range l.mcbs.Drain() {
		l.transport.ReleaseChannel(ch)
		l.transport.Unlisten(ch)
		l.stats.ChannelsReleased++
		metrics.MCAPTotal.WithLabelValues(l.name, "release").Inc()
	}
	l.marbs.Range(func(mb *resolve.MARB) bool {
		if !l.marbs.OnBroadcast(mb) {
			l.transport.Unlisten(mb.Channel)
		}
		return true
	})
	if l.started {
		l.transport.Unlisten(l.cfg.MCAP.BroadcastChannel)
	}
	l.rcbs.Flush()
	l.closed = true
	l.upcalls = nil
	metrics.DeleteLink(l.name)
	l.log.Info("link closed")
	return nil
}

// SetAddress sets our IPv4 address and announces it with a gratuitous ARP.
func (l *Link) SetAddress(ip netip.Addr) error {
	ip = ip.Unmap()
	if !ip.Is4() || ip.IsUnspecified() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s is not a unicast IPv4 address", core.ErrConfigInvalid, ip)
	}
	return l.do(func() error {
		l.lcb.ip = ip
		if l.started {
			l.announce()
		}
		return nil
	})
}

// Address returns our IPv4 address.
func (l *Link) Address() netip.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lcb.ip
}

// HWAddr returns our 1394 hardware address.
func (l *Link) HWAddr() core.HWAddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lcb.hw
}

// do runs fn as one serialized operation. Pending completions are processed
// first; upcalls queued by fn run after the lock is released.
func (l *Link) do(fn func() error) error {
	l.mu.Lock()
	var err error
	if l.closed {
		err = core.ErrLinkClosed
	} else {
		l.reap()
		err = fn()
	}
	upcalls := l.upcalls
	l.upcalls = nil
	l.mu.Unlock()

	for _, call := range upcalls {
		call()
	}
	return err
}

// upcall queues a call into the upper layer.
func (l *Link) upcall(fn func()) { l.upcalls = append(l.upcalls, fn) }

// completer returns the transport completion for a descriptor. It only
// queues; the descriptor returns to its pool under the lock.
func (l *Link) completer(p *txpool.Pool, d *txpool.Descriptor) bus.CompletionFunc {
	return func(err error) {
		l.completions <- completion{pool: p, desc: d, err: err}
	}
}

// reap returns the descriptors of finished transmits.
func (l *Link) reap() {
	for {
		select {
		case c := <-l.completions:
			c.pool.Release(c.desc)
			if c.err != nil {
				l.drop(reasonTXError, c.err)
			}
		default:
			return
		}
	}
}

// recomputeBroadcastLimits derives the broadcast speed and payload from the
// slowest present node.
func (l *Link) recomputeBroadcastLimits() {
	speed := l.lcb.hw.Speed
	payload := codec.MaxPayloadForRec(l.lcb.hw.MaxRec)
	l.drbs.Range(func(drb *resolve.DRB) bool {
		if !drb.Present {
			return true
		}
		speed = min(speed, drb.Speed)
		payload = min(payload, codec.MaxPayloadForRec(drb.MaxRec))
		return true
	})
	l.lcb.maxBroadcastSpeed = speed
	l.lcb.maxBroadcastPayload = min(payload, codec.MaxPayloadForSpeed(speed))
}

func (l *Link) nextLabel() uint16 {
	l.lcb.label++
	return l.lcb.label
}
