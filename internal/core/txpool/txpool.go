// Package txpool provides bounded pools of transmit descriptors. A packet
// handed to the transport holds a descriptor until its completion arrives;
// an empty pool is backpressure, not a reason to allocate.
package txpool

import (
	"fmt"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/log"
)

// Descriptor is one transmit slot with a reusable buffer.
type Descriptor struct {
	pool  *Pool
	index int
	buf   []byte
	used  bool
}

// Fill copies data into the descriptor buffer, growing it when needed, and
// returns the filled slice. The slice stays valid until Release.
func (d *Descriptor) Fill(data []byte) []byte {
	if cap(d.buf) < len(data) {
		d.buf = make([]byte, len(data))
	}
	d.buf = d.buf[:len(data)]
	copy(d.buf, data)
	return d.buf
}

// Index identifies the descriptor inside its pool.
func (d *Descriptor) Index() int { return d.index }

// Pool is a fixed set of descriptors. It is not safe for concurrent use.
type Pool struct {
	name     string
	all      []*Descriptor
	free     []*Descriptor
	onChange func(inFlight int)
}

// New creates a pool of capacity descriptors with bufSize-byte buffers.
func New(name string, capacity, bufSize int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool{
		name: name,
		all:  make([]*Descriptor, capacity),
		free: make([]*Descriptor, 0, capacity),
	}
	for i := range p.all {
		d := &Descriptor{pool: p, index: i, buf: make([]byte, 0, bufSize)}
		p.all[i] = d
		p.free = append(p.free, d)
	}
	return p
}

// OnChange registers a callback invoked with the in-flight count after every
// acquire or release.
func (p *Pool) OnChange(fn func(inFlight int)) { p.onChange = fn }

// Acquire takes a free descriptor or fails with ErrNoDescriptorAvailable.
func (p *Pool) Acquire() (*Descriptor, error) {
	n := len(p.free)
	if n == 0 {
		return nil, fmt.Errorf("%s pool: %w", p.name, core.ErrNoDescriptorAvailable)
	}
	d := p.free[n-1]
	p.free = p.free[:n-1]
	d.used = true
	p.changed()
	return d, nil
}

// Release returns a descriptor. Releasing a foreign or already free
// descriptor is an invariant violation and is otherwise ignored.
func (p *Pool) Release(d *Descriptor) {
	if d == nil || d.pool != p || !d.used {
		err := core.Violation("%s pool: release of descriptor not in flight", p.name)
		log.GetLogger().WithError(err).Warn("ignoring descriptor release")
		return
	}
	d.used = false
	d.buf = d.buf[:0]
	p.free = append(p.free, d)
	p.changed()
}

// InFlight returns the number of acquired descriptors.
func (p *Pool) InFlight() int { return len(p.all) - len(p.free) }

// Capacity returns the pool size.
func (p *Pool) Capacity() int { return len(p.all) }

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

func (p *Pool) changed() {
	if p.onChange != nil {
		p.onChange(p.InFlight())
	}
}
