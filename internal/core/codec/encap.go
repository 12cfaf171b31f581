package codec

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/fwip/internal/core"
)

const (
	// UnfragmentedHeaderLen is the size of the unfragmented encapsulation header.
	UnfragmentedHeaderLen = 4
	// FragmentHeaderLen is the size of every fragment encapsulation header.
	FragmentHeaderLen = 8

	// MaxDatagramSize is the largest size the 14-bit biased size field encodes.
	MaxDatagramSize = 1 << 14

	sizeMask   = 0x3FFF
	offsetMask = 0x3FFF
)

// FragmentKind is the RFC 2734 lf field.
type FragmentKind uint8

const (
	Unfragmented     FragmentKind = 0
	FirstFragment    FragmentKind = 1
	LastFragment     FragmentKind = 2
	InteriorFragment FragmentKind = 3
)

func (k FragmentKind) String() string {
	switch k {
	case Unfragmented:
		return "unfragmented"
	case FirstFragment:
		return "first"
	case LastFragment:
		return "last"
	case InteriorFragment:
		return "interior"
	}
	return "unknown"
}

// Frame is a decoded link encapsulation. DatagramSize, Offset and Label are
// only meaningful for fragments; EtherType is zero for Interior/Last fragments.
type Frame struct {
	Kind         FragmentKind
	EtherType    uint16
	DatagramSize int
	Offset       int
	Label        uint16
	Payload      []byte
}

// EncodeUnfragmented prepends the 4-byte unfragmented header.
func EncodeUnfragmented(etherType uint16, payload []byte) []byte {
	out := make([]byte, UnfragmentedHeaderLen+len(payload))
	// bytes 0-1: lf=0 + reserved, all zero
	binary.BigEndian.PutUint16(out[2:4], etherType)
	copy(out[UnfragmentedHeaderLen:], payload)
	return out
}

// EncodeFragment prepends the 8-byte fragment header. etherType is written
// only for the first fragment; offset only for the others.
func EncodeFragment(kind FragmentKind, datagramSize, offset int, label, etherType uint16, payload []byte) []byte {
	out := make([]byte, FragmentHeaderLen+len(payload))
	binary.BigEndian.PutUint16(out[0:2], uint16(kind)<<14|uint16(datagramSize-1)&sizeMask)
	if kind == FirstFragment {
		binary.BigEndian.PutUint16(out[2:4], etherType)
	} else {
		binary.BigEndian.PutUint16(out[2:4], uint16(offset)&offsetMask)
	}
	binary.BigEndian.PutUint16(out[4:6], label)
	// bytes 6-7 reserved
	copy(out[FragmentHeaderLen:], payload)
	return out
}

// DecodeEncapsulation parses a link encapsulation header. The returned
// payload aliases data.
func DecodeEncapsulation(data []byte) (Frame, error) {
	if len(data) < UnfragmentedHeaderLen {
		return Frame{}, core.ErrTruncated
	}

	word := binary.BigEndian.Uint16(data[0:2])
	kind := FragmentKind(word >> 14)
	if kind == Unfragmented {
		return Frame{
			Kind:      Unfragmented,
			EtherType: binary.BigEndian.Uint16(data[2:4]),
			Payload:   data[UnfragmentedHeaderLen:],
		}, nil
	}

	if len(data) < FragmentHeaderLen {
		return Frame{}, core.ErrTruncated
	}
	f := Frame{
		Kind:         kind,
		DatagramSize: int(word&sizeMask) + 1,
		Label:        binary.BigEndian.Uint16(data[4:6]),
		Payload:      data[FragmentHeaderLen:],
	}
	if kind == FirstFragment {
		f.EtherType = binary.BigEndian.Uint16(data[2:4])
	} else {
		f.Offset = int(binary.BigEndian.Uint16(data[2:4]) & offsetMask)
	}
	return f, nil
}

// Fragment encapsulates a datagram for a link whose packets carry at most
// maxPayload datagram bytes per fragment. A datagram that fits together with
// the shorter unfragmented header is sent whole.
func Fragment(etherType uint16, datagram []byte, maxPayload int, label uint16) ([][]byte, error) {
	if maxPayload <= 0 {
		return nil, fmt.Errorf("fragment: invalid max payload %d", maxPayload)
	}
	size := len(datagram)
	if size > MaxDatagramSize {
		return nil, fmt.Errorf("fragment %d bytes: %w", size, core.ErrDatagramTooLarge)
	}
	if size+UnfragmentedHeaderLen <= maxPayload+FragmentHeaderLen {
		return [][]byte{EncodeUnfragmented(etherType, datagram)}, nil
	}

	frames := make([][]byte, 0, (size+maxPayload-1)/maxPayload)
	for off := 0; off < size; off += maxPayload {
		end := min(off+maxPayload, size)
		kind := InteriorFragment
		switch {
		case off == 0:
			kind = FirstFragment
		case end == size:
			kind = LastFragment
		}
		frames = append(frames, EncodeFragment(kind, size, off, label, etherType, datagram[off:end]))
	}
	return frames, nil
}
