// Package reassembly rebuilds link-fragmented datagrams.
package reassembly

import (
	"container/list"
	"fmt"

	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/core/codec"
	"firestige.xyz/fwip/internal/log"
)

// Config contains reassembly limits. Timeouts are in watchdog ticks.
type Config struct {
	TimeoutTicks int // ticks an incomplete datagram may wait (default 5)
	MaxActive    int // concurrent datagrams per link (default 64)
	MaxDatagram  int // largest datagram accepted (default codec.MaxDatagramSize)
}

// Datagram is a completed datagram handed to the upper layer.
type Datagram struct {
	EtherType uint16
	Data      []byte
}

// key identifies one datagram in flight: the sender and its datagram label.
type key struct {
	src   core.NodeID
	label uint16
}

// span is a byte range already copied into the buffer.
type span struct {
	offset int
	length int
}

// rcb is the reassembly control block of one datagram.
type rcb struct {
	etherType uint16
	buf       []byte
	spans     list.List // *span, sorted by offset ascending
	residual  int       // bytes still missing
	timer     int
	seq       uint64 // allocation order, oldest evicted first
}

// Engine holds the RCB table of one link. It is not safe for concurrent use;
// the link serializes access.
type Engine struct {
	cfg   Config
	rcbs  map[key]*rcb
	seq   uint64
	onLen func(int)
}

// New creates a reassembly engine.
func New(cfg Config) *Engine {
	if cfg.TimeoutTicks <= 0 {
		cfg.TimeoutTicks = 5
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 64
	}
	if cfg.MaxDatagram <= 0 || cfg.MaxDatagram > codec.MaxDatagramSize {
		cfg.MaxDatagram = codec.MaxDatagramSize
	}
	return &Engine{
		cfg:  cfg,
		rcbs: make(map[key]*rcb),
	}
}

// OnLenChange registers a callback invoked with the table size after it changes.
func (e *Engine) OnLenChange(fn func(int)) { e.onLen = fn }

// Input consumes one decoded frame from src.
// Returns:
//   - Unfragmented frame: (datagram, true, nil)
//   - Fragment accepted, datagram incomplete: (zero, false, nil)
//   - Last missing fragment: (datagram, true, nil)
//   - Rejected fragment: (zero, false, err)
func (e *Engine) Input(src core.NodeID, f codec.Frame) (Datagram, bool, error) {
	if f.Kind == codec.Unfragmented {
		return Datagram{EtherType: f.EtherType, Data: f.Payload}, true, nil
	}

	if f.DatagramSize > e.cfg.MaxDatagram {
		return Datagram{}, false, fmt.Errorf("%w: declared size %d, limit %d",
			core.ErrDatagramTooLarge, f.DatagramSize, e.cfg.MaxDatagram)
	}
	if f.Offset+len(f.Payload) > f.DatagramSize {
		return Datagram{}, false, fmt.Errorf("%w: fragment [%d,+%d) overruns datagram of %d",
			core.ErrMalformedPacket, f.Offset, len(f.Payload), f.DatagramSize)
	}

	k := key{src: src, label: f.Label}
	r, exists := e.rcbs[k]

	switch {
	case f.Kind == codec.FirstFragment:
		if exists {
			// Sender reused the label before we finished: the old datagram is lost.
			log.GetLogger().WithFields(map[string]interface{}{
				"src": src.String(), "label": f.Label,
			}).Debug("duplicate first fragment, restarting reassembly")
			e.remove(k)
		}
		r = e.allocate(k, f)
	case !exists:
		return Datagram{}, false, fmt.Errorf("%w: src=%s label=%d offset=%d",
			core.ErrOrphanFragment, src, f.Label, f.Offset)
	case len(r.buf) != f.DatagramSize:
		e.remove(k)
		return Datagram{}, false, fmt.Errorf("%w: fragment size %d disagrees with %d",
			core.ErrMalformedPacket, f.DatagramSize, len(r.buf))
	}

	e.insert(r, f.Offset, f.Payload)

	if r.residual > 0 {
		return Datagram{}, false, nil
	}
	e.remove(k)
	return Datagram{EtherType: r.etherType, Data: r.buf}, true, nil
}

func (e *Engine) allocate(k key, f codec.Frame) *rcb {
	if len(e.rcbs) >= e.cfg.MaxActive {
		e.evictOldest()
	}
	e.seq++
	r := &rcb{
		etherType: f.EtherType,
		buf:       make([]byte, f.DatagramSize),
		residual:  f.DatagramSize,
		timer:     e.cfg.TimeoutTicks,
		seq:       e.seq,
	}
	e.rcbs[k] = r
	e.changed()
	return r
}

// insert copies the parts of payload not yet covered, filling each hole it
// spans. Bytes already received win on overlap.
func (e *Engine) insert(r *rcb, offset int, payload []byte) {
	end := offset + len(payload)
	pos := offset
	el := r.spans.Front()

	for pos < end {
		for el != nil && el.Value.(*span).offset+el.Value.(*span).length <= pos {
			el = el.Next()
		}
		if el != nil && el.Value.(*span).offset <= pos {
			covered := el.Value.(*span)
			pos = covered.offset + covered.length
			el = el.Next()
			continue
		}

		stop := end
		if el != nil && el.Value.(*span).offset < stop {
			stop = el.Value.(*span).offset
		}
		copy(r.buf[pos:stop], payload[pos-offset:stop-offset])
		hole := &span{offset: pos, length: stop - pos}
		if el != nil {
			r.spans.InsertBefore(hole, el)
		} else {
			r.spans.PushBack(hole)
		}
		r.residual -= hole.length
		pos = stop
	}
}

// Tick ages every incomplete datagram and drops the expired ones. No partial
// datagram is ever delivered. Returns the number expired.
func (e *Engine) Tick() int {
	expired := 0
	for k, r := range e.rcbs {
		r.timer--
		if r.timer <= 0 {
			delete(e.rcbs, k)
			expired++
		}
	}
	if expired > 0 {
		e.changed()
	}
	return expired
}

// Flush drops every incomplete datagram. Used on bus reset, after which the
// source node IDs no longer name the same senders.
func (e *Engine) Flush() int {
	n := len(e.rcbs)
	if n > 0 {
		e.rcbs = make(map[key]*rcb)
		e.changed()
	}
	return n
}

// Len returns the number of datagrams being reassembled.
func (e *Engine) Len() int { return len(e.rcbs) }

func (e *Engine) evictOldest() {
	var (
		oldest key
		seq    uint64
		found  bool
	)
	for k, r := range e.rcbs {
		if !found || r.seq < seq {
			oldest, seq, found = k, r.seq, true
		}
	}
	if found {
		log.GetLogger().WithFields(map[string]interface{}{
			"src": oldest.src.String(), "label": oldest.label,
		}).Debug("reassembly table full, evicting oldest datagram")
		e.remove(oldest)
	}
}

func (e *Engine) remove(k key) {
	if _, ok := e.rcbs[k]; ok {
		delete(e.rcbs, k)
		e.changed()
	}
}

func (e *Engine) changed() {
	if e.onLen != nil {
		e.onLen(len(e.rcbs))
	}
}
