package codec

import (
	"encoding/binary"

	"firestige.xyz/fwip/internal/core"
)

// GASP header constants (RFC 2734 §3, RFC 3146 §4).
const (
	GASPHeaderLen = 8

	GASPSpecifierID uint32 = 0x00005E // IANA
	GASPVersionIPv4 uint32 = 0x000001
	GASPVersionIPv6 uint32 = 0x000002
)

// EncodeGASP wraps an encapsulated packet for asynchronous stream transmission.
func EncodeGASP(source core.NodeID, payload []byte) []byte {
	return EncodeGASPVersion(source, GASPVersionIPv4, payload)
}

// EncodeGASPVersion is EncodeGASP with an explicit version value.
func EncodeGASPVersion(source core.NodeID, version uint32, payload []byte) []byte {
	out := make([]byte, GASPHeaderLen+len(payload))
	binary.BigEndian.PutUint16(out[0:2], uint16(source))
	put24(out[2:5], GASPSpecifierID)
	put24(out[5:8], version)
	copy(out[GASPHeaderLen:], payload)
	return out
}

// DecodeGASP validates the GASP header and returns the sender and the inner
// packet. Packets from another bus or with a foreign specifier are rejected.
func DecodeGASP(data []byte, local core.NodeID) (core.NodeID, []byte, error) {
	if len(data) < GASPHeaderLen {
		return 0, nil, core.ErrTruncated
	}
	if get24(data[2:5]) != GASPSpecifierID {
		return 0, nil, core.ErrInvalidGASP
	}
	if v := get24(data[5:8]); v != GASPVersionIPv4 && v != GASPVersionIPv6 {
		return 0, nil, core.ErrInvalidGASP
	}
	src := core.NodeID(binary.BigEndian.Uint16(data[0:2]))
	if !src.SameBus(local) {
		return 0, nil, core.ErrForeignBus
	}
	return src, data[GASPHeaderLen:], nil
}

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
