package codec

import (
	"encoding/binary"

	"firestige.xyz/fwip/internal/core"
)

// IPv6 neighbor discovery link-layer option for 1394 (RFC 3146 §5).
const (
	NDPOptionLen = 24

	NDPOptionSourceLinkAddr uint8 = 1
	NDPOptionTargetLinkAddr uint8 = 2

	ndpOptionUnits = NDPOptionLen / 8
)

// EncodeNDPOption builds a source or target link-layer address option.
func EncodeNDPOption(typ uint8, hw core.HWAddr) []byte {
	b := make([]byte, NDPOptionLen)
	b[0] = typ
	b[1] = ndpOptionUnits
	putNDPData(b[2:], hw)
	return b
}

// DecodeNDPOption parses a complete option including its type and length.
func DecodeNDPOption(data []byte) (uint8, core.HWAddr, error) {
	if len(data) < NDPOptionLen {
		return 0, core.HWAddr{}, core.ErrTruncated
	}
	if data[1] != ndpOptionUnits {
		return 0, core.HWAddr{}, core.ErrMalformedPacket
	}
	hw, err := DecodeNDPOptionData(data[2:NDPOptionLen])
	return data[0], hw, err
}

// DecodeNDPOptionData parses the option body that follows the type and
// length octets.
func DecodeNDPOptionData(data []byte) (core.HWAddr, error) {
	if len(data) < NDPOptionLen-2 {
		return core.HWAddr{}, core.ErrTruncated
	}
	return core.HWAddr{
		EUI64:  core.EUI64(binary.BigEndian.Uint64(data[0:8])),
		MaxRec: data[8],
		Speed:  core.Speed(data[9]),
		FIFO:   uint64(binary.BigEndian.Uint16(data[10:12]))<<32 | uint64(binary.BigEndian.Uint32(data[12:16])),
	}, nil
}

func putNDPData(b []byte, hw core.HWAddr) {
	binary.BigEndian.PutUint64(b[0:8], uint64(hw.EUI64))
	b[8] = hw.MaxRec
	b[9] = uint8(hw.Speed)
	binary.BigEndian.PutUint16(b[10:12], hw.FIFOHi())
	binary.BigEndian.PutUint32(b[12:16], hw.FIFOLo())
	// 6 reserved bytes stay zero
}
