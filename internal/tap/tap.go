// Package tap captures datagrams crossing the links into a pcap file.
package tap

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"

	"firestige.xyz/fwip/internal/config"
	"firestige.xyz/fwip/internal/core"
)

// LinkTypeIPOverIEEE1394 is LINKTYPE_APPLE_IP_OVER_IEEE1394: every record
// starts with destination EUI-64, source EUI-64 and ethertype.
const LinkTypeIPOverIEEE1394 = layers.LinkType(138)

// HeaderLen is the pseudo header length.
const HeaderLen = 18

// Writer writes captured datagrams. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	snaplen int
	vm      *bpf.VM // nil = capture everything
	now     func() time.Time
	dropped int
}

// Open creates the capture file described by cfg.
func Open(cfg config.TapConfig) (*Writer, error) {
	f, err := os.Create(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("create tap file: %w", err)
	}
	t, err := New(f, cfg.Snaplen, cfg.EtherTypes)
	if err != nil {
		f.Close()
		return nil, err
	}
	t.closer = f
	return t, nil
}

// New writes a pcap file header to w and returns a Writer. A non-empty
// etherTypes list restricts what is captured.
func New(w io.Writer, snaplen int, etherTypes []uint16) (*Writer, error) {
	if snaplen <= 0 {
		snaplen = 65535
	}
	t := &Writer{
		w:       pcapgo.NewWriter(w),
		snaplen: snaplen,
		now:     time.Now,
	}
	if len(etherTypes) > 0 {
		prog, err := CompileEtherTypeFilter(etherTypes, snaplen)
		if err != nil {
			return nil, err
		}
		if t.vm, err = bpf.NewVM(prog); err != nil {
			return nil, fmt.Errorf("failed to load BPF filter: %w", err)
		}
	}
	if err := t.w.WriteFileHeader(uint32(snaplen), LinkTypeIPOverIEEE1394); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return t, nil
}

// Capture records one datagram. Write errors are counted, not returned: the
// capture never interferes with forwarding.
func (t *Writer) Capture(src, dst core.EUI64, etherType uint16, data []byte) {
	frame := make([]byte, HeaderLen+len(data))
	binary.BigEndian.PutUint64(frame[0:8], uint64(dst))
	binary.BigEndian.PutUint64(frame[8:16], uint64(src))
	binary.BigEndian.PutUint16(frame[16:18], etherType)
	copy(frame[HeaderLen:], data)

	t.mu.Lock()
	defer t.mu.Unlock()

	keep := len(frame)
	if t.vm != nil {
		n, err := t.vm.Run(frame)
		if err != nil || n == 0 {
			return
		}
		keep = n
	}
	if keep > t.snaplen {
		keep = t.snaplen
	}
	if keep > len(frame) {
		keep = len(frame)
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     t.now(),
		CaptureLength: keep,
		Length:        len(frame),
	}
	if err := t.w.WritePacket(ci, frame[:keep]); err != nil {
		t.dropped++
	}
}

// Dropped returns the number of records that failed to write.
func (t *Writer) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Close closes the underlying file when the Writer owns it.
func (t *Writer) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
