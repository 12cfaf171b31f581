package codec

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/fwip/internal/core"
)

// MCAP constants (RFC 2734 §9).
const (
	MCAPHeaderLen = 4

	mcapDescFixedLen = 12
	mcapDescTypeAddr = 1
)

// MCAPOp is the MCAP message opcode.
type MCAPOp uint8

const (
	MCAPAdvertise MCAPOp = 0
	MCAPSolicit   MCAPOp = 1
)

func (o MCAPOp) String() string {
	switch o {
	case MCAPAdvertise:
		return "advertise"
	case MCAPSolicit:
		return "solicit"
	}
	return "unknown"
}

// GroupDescriptor binds a multicast group to a channel.
type GroupDescriptor struct {
	Expiration uint8
	Channel    uint8
	Speed      core.Speed
	Bandwidth  uint32
	Group      netip.Addr
}

// MCAPMessage is a complete MCAP message.
type MCAPMessage struct {
	Op          MCAPOp
	Descriptors []GroupDescriptor
}

// Marshal encodes the message. Descriptors with an invalid group address are
// skipped.
func (m *MCAPMessage) Marshal() []byte {
	size := MCAPHeaderLen
	for _, d := range m.Descriptors {
		if d.Group.IsValid() {
			size += mcapDescFixedLen + d.Group.BitLen()/8
		}
	}

	b := make([]byte, size)
	binary.BigEndian.PutUint16(b[0:2], uint16(size))
	b[3] = uint8(m.Op)

	off := MCAPHeaderLen
	for _, d := range m.Descriptors {
		if !d.Group.IsValid() {
			continue
		}
		addr := d.Group.AsSlice()
		dlen := mcapDescFixedLen + len(addr)
		desc := b[off : off+dlen]
		desc[0] = uint8(dlen)
		desc[1] = mcapDescTypeAddr
		desc[4] = d.Expiration
		desc[5] = d.Channel
		desc[6] = uint8(d.Speed)
		binary.BigEndian.PutUint32(desc[8:12], d.Bandwidth)
		copy(desc[mcapDescFixedLen:], addr)
		off += dlen
	}
	return b
}

// DecodeMCAP parses an MCAP message. Descriptors of unknown type are skipped.
func DecodeMCAP(data []byte) (MCAPMessage, error) {
	if len(data) < MCAPHeaderLen {
		return MCAPMessage{}, core.ErrTruncated
	}
	length := int(binary.BigEndian.Uint16(data[0:2]))
	if length < MCAPHeaderLen || length > len(data) {
		return MCAPMessage{}, core.ErrTruncated
	}
	op := MCAPOp(data[3])
	if op != MCAPAdvertise && op != MCAPSolicit {
		return MCAPMessage{}, fmt.Errorf("mcap opcode %d: %w", op, core.ErrUnknownProtocol)
	}

	msg := MCAPMessage{Op: op}
	rest := data[MCAPHeaderLen:length]
	for len(rest) > 0 {
		if len(rest) < 2 {
			return MCAPMessage{}, core.ErrTruncated
		}
		dlen := int(rest[0])
		if dlen < 2 {
			return MCAPMessage{}, fmt.Errorf("mcap descriptor length %d: %w", dlen, core.ErrMalformedPacket)
		}
		if dlen > len(rest) {
			return MCAPMessage{}, core.ErrTruncated
		}
		desc := rest[:dlen]
		rest = rest[dlen:]
		if desc[1] != mcapDescTypeAddr {
			continue
		}

		var group netip.Addr
		switch dlen - mcapDescFixedLen {
		case 4:
			group = netip.AddrFrom4([4]byte(desc[mcapDescFixedLen:]))
		case 16:
			group = netip.AddrFrom16([16]byte(desc[mcapDescFixedLen:]))
		default:
			return MCAPMessage{}, fmt.Errorf("mcap descriptor length %d: %w", dlen, core.ErrMalformedPacket)
		}
		msg.Descriptors = append(msg.Descriptors, GroupDescriptor{
			Expiration: desc[4],
			Channel:    desc[5],
			Speed:      core.Speed(desc[6]),
			Bandwidth:  binary.BigEndian.Uint32(desc[8:12]),
			Group:      group,
		})
	}
	return msg, nil
}
