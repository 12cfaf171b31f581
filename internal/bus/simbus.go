package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/log"
)

// NodeInfo describes a simulated node's bus capabilities.
type NodeInfo struct {
	Name   string
	EUI64  core.EUI64
	MaxRec uint8
	Speed  core.Speed
}

// SimBus is an in-memory serial bus. Packets and events are queued and
// delivered by Drain or Run, never from inside a Transport call, so a
// receiver may transmit while handling a delivery.
type SimBus struct {
	mu         sync.Mutex
	generation uint32
	nodes      []*SimNode // attached, index = phy ID
	queue      []func()
	notify     chan struct{}

	// channels is the IRM CHANNELS_AVAILABLE bitmap, bit n set = allocated.
	channels atomic.Uint64
}

// NewSimBus creates an empty bus.
func NewSimBus() *SimBus {
	return &SimBus{notify: make(chan struct{}, 1)}
}

// SimNode is one node on a SimBus. It implements Transport.
type SimNode struct {
	bus  *SimBus
	info NodeInfo
	recv Receiver

	// guarded by bus.mu
	phy        uint8
	attached   bool
	listening  map[uint8]bool
	handles    map[core.EUI64]core.DeviceHandle
	byHandle   map[core.DeviceHandle]core.EUI64
	present    map[core.EUI64]bool
	nextHandle core.DeviceHandle
}

// Attach adds a node. The node receives nothing until Bind and the next Reset.
func (b *SimBus) Attach(info NodeInfo) *SimNode {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := &SimNode{
		bus:       b,
		info:      info,
		attached:  true,
		listening: make(map[uint8]bool),
		handles:   make(map[core.EUI64]core.DeviceHandle),
		byHandle:  make(map[core.DeviceHandle]core.EUI64),
		present:   make(map[core.EUI64]bool),
	}
	b.nodes = append(b.nodes, n)
	return n
}

// Detach removes a node and resets the bus.
func (b *SimBus) Detach(n *SimNode) {
	b.mu.Lock()
	for i, other := range b.nodes {
		if other == n {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			break
		}
	}
	n.attached = false
	n.listening = make(map[uint8]bool)
	b.mu.Unlock()
	b.Reset()
}

// Remove detaches a node for good. Every other node is told the unit is
// permanently gone and drops the handle it had for it, so a later Attach
// with the same EUI-64 is announced as a new device.
func (b *SimBus) Remove(n *SimNode) {
	eui := n.info.EUI64
	b.mu.Lock()
	for _, other := range b.nodes {
		if other == n {
			continue
		}
		delete(other.present, eui)
		if h, ok := other.handles[eui]; ok {
			delete(other.handles, eui)
			delete(other.byHandle, h)
		}
		other := other
		b.enqueueLocked(func() {
			if r := other.receiver(); r != nil {
				r.DeviceRemoved(eui)
			}
		})
	}
	b.mu.Unlock()
	b.Detach(n)
}

// Bind sets the receiver events are delivered to.
func (n *SimNode) Bind(r Receiver) {
	n.bus.mu.Lock()
	n.recv = r
	n.bus.mu.Unlock()
}

// Reset starts a new bus generation: node IDs are reassigned in attach
// order, the IRM channel bitmap is cleared, and every node learns about
// arrived and departed peers.
func (b *SimBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generation++
	b.channels.Store(0)
	gen := b.generation

	for i, n := range b.nodes {
		n.phy = uint8(i)
	}
	for _, n := range b.nodes {
		n, id := n, core.NewNodeID(n.phy)
		b.enqueueLocked(func() {
			if r := n.receiver(); r != nil {
				r.OnBusReset(gen, id)
			}
		})

		seen := make(map[core.EUI64]bool)
		for _, peer := range b.nodes {
			if peer == n {
				continue
			}
			seen[peer.info.EUI64] = true
			if n.present[peer.info.EUI64] {
				continue
			}
			n.present[peer.info.EUI64] = true
			info := core.DeviceInfo{
				EUI64:  peer.info.EUI64,
				Handle: n.handleLocked(peer.info.EUI64),
				MaxRec: peer.info.MaxRec,
				Speed:  peer.info.Speed,
			}
			b.enqueueLocked(func() {
				if r := n.receiver(); r != nil {
					r.DeviceArrived(info)
				}
			})
		}
		for eui := range n.present {
			if seen[eui] {
				continue
			}
			delete(n.present, eui)
			eui := eui
			b.enqueueLocked(func() {
				if r := n.receiver(); r != nil {
					r.DeviceDeparted(eui)
				}
			})
		}
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"generation": gen, "nodes": len(b.nodes),
	}).Debug("bus reset")
}

// Generation returns the current bus generation.
func (b *SimBus) Generation() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Reserve marks channels as allocated by a node outside the simulation.
func (b *SimBus) Reserve(channels ...uint8) {
	for _, ch := range channels {
		for {
			old := b.channels.Load()
			if b.channels.CompareAndSwap(old, old|1<<ch) {
				break
			}
		}
	}
}

// Allocated reports whether the IRM has channel allocated.
func (b *SimBus) Allocated(channel uint8) bool {
	return b.channels.Load()&(1<<channel) != 0
}

// Drain delivers queued events until the queue is empty, including events
// queued by the deliveries themselves. Returns the number delivered.
func (b *SimBus) Drain() int {
	delivered := 0
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return delivered
		}
		fn := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.mu.Unlock()

		fn()
		delivered++
	}
}

// Run drains the queue whenever events arrive, until ctx is done.
func (b *SimBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.notify:
			b.Drain()
		}
	}
}

func (b *SimBus) enqueueLocked(fn func()) {
	b.queue = append(b.queue, fn)
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (n *SimNode) receiver() Receiver {
	n.bus.mu.Lock()
	defer n.bus.mu.Unlock()
	return n.recv
}

func (n *SimNode) handleLocked(eui core.EUI64) core.DeviceHandle {
	h, ok := n.handles[eui]
	if !ok {
		n.nextHandle++
		h = n.nextHandle
		n.handles[eui] = h
		n.byHandle[h] = eui
	}
	return h
}

func (b *SimBus) nodeByEUI64Locked(eui core.EUI64) *SimNode {
	for _, n := range b.nodes {
		if n.info.EUI64 == eui {
			return n
		}
	}
	return nil
}

// Info returns the node description.
func (n *SimNode) Info() NodeInfo { return n.info }

// NodeID returns the node's current bus address.
func (n *SimNode) NodeID() core.NodeID {
	n.bus.mu.Lock()
	defer n.bus.mu.Unlock()
	return core.NewNodeID(n.phy)
}

// SubmitUnicastWrite implements Transport.
func (n *SimNode) SubmitUnicastWrite(dev core.DeviceHandle, addr uint64, data []byte, done CompletionFunc) error {
	b := n.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if !n.attached {
		return fmt.Errorf("node %s: %w", n.info.Name, ErrNoSuchDevice)
	}

	var target *SimNode
	if eui, ok := n.byHandle[dev]; ok && n.present[eui] {
		target = b.nodeByEUI64Locked(eui)
	}
	src := core.NewNodeID(n.phy)
	payload := append([]byte(nil), data...)

	b.enqueueLocked(func() {
		if target == nil {
			complete(done, fmt.Errorf("device %d: %w", dev, ErrNoSuchDevice))
			return
		}
		if r := target.receiver(); r != nil {
			r.OnUnicastBlockWrite(src, addr, payload)
		}
		complete(done, nil)
	})
	return nil
}

// SubmitAsyncStream implements Transport. Nodes slower than speed do not
// receive the packet; the sender never hears its own stream.
func (n *SimNode) SubmitAsyncStream(channel uint8, speed core.Speed, data []byte, done CompletionFunc) error {
	b := n.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if !n.attached {
		return fmt.Errorf("node %s: %w", n.info.Name, ErrNoSuchDevice)
	}
	if channel >= core.ChannelCount {
		return fmt.Errorf("channel %d out of range", channel)
	}

	var targets []*SimNode
	for _, peer := range b.nodes {
		if peer != n && peer.listening[channel] && peer.info.Speed >= speed {
			targets = append(targets, peer)
		}
	}
	payload := append([]byte(nil), data...)

	b.enqueueLocked(func() {
		for _, t := range targets {
			if r := t.receiver(); r != nil {
				r.OnAsyncStreamPacket(channel, payload)
			}
		}
		complete(done, nil)
	})
	return nil
}

// AcquireChannel implements Transport with a compare-and-swap on the IRM
// bitmap.
func (n *SimNode) AcquireChannel(channel uint8) error {
	if channel >= core.ChannelCount {
		return fmt.Errorf("channel %d out of range", channel)
	}
	b := n.bus
	for {
		old := b.channels.Load()
		if old&(1<<channel) != 0 {
			return fmt.Errorf("channel %d: %w", channel, ErrChannelBusy)
		}
		if b.channels.CompareAndSwap(old, old|1<<channel) {
			return nil
		}
	}
}

// ReleaseChannel implements Transport.
func (n *SimNode) ReleaseChannel(channel uint8) {
	b := n.bus
	for {
		old := b.channels.Load()
		if b.channels.CompareAndSwap(old, old&^(1<<channel)) {
			return
		}
	}
}

// Listen implements Transport.
func (n *SimNode) Listen(channel uint8) error {
	if channel >= core.ChannelCount {
		return fmt.Errorf("channel %d out of range", channel)
	}
	n.bus.mu.Lock()
	n.listening[channel] = true
	n.bus.mu.Unlock()
	return nil
}

// Unlisten implements Transport.
func (n *SimNode) Unlisten(channel uint8) {
	n.bus.mu.Lock()
	delete(n.listening, channel)
	n.bus.mu.Unlock()
}

// Listening reports whether the node receives on channel.
func (n *SimNode) Listening(channel uint8) bool {
	n.bus.mu.Lock()
	defer n.bus.mu.Unlock()
	return n.listening[channel]
}

func complete(done CompletionFunc, err error) {
	if done != nil {
		done(err)
	}
}
