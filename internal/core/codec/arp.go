package codec

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/fwip/internal/core"
)

// ARP-1394 constants (RFC 2734 §4.2).
const (
	ARPLen          = 32
	ARPHardwareType = 24 // IANA hardware type for IEEE 1394.1995

	arpHWAddrLen = 16
	arpIPAddrLen = 4
)

// ARPOp is the ARP opcode.
type ARPOp uint16

const (
	ARPRequest ARPOp = 1
	ARPReply   ARPOp = 2
)

func (o ARPOp) String() string {
	switch o {
	case ARPRequest:
		return "request"
	case ARPReply:
		return "reply"
	}
	return "unknown"
}

// ARP is an ARP-1394 packet. Unlike Ethernet ARP it carries no target
// hardware address.
type ARP struct {
	Op       ARPOp
	Sender   core.HWAddr
	SenderIP netip.Addr
	TargetIP netip.Addr
}

// Gratuitous reports whether the sender announces its own address.
func (a *ARP) Gratuitous() bool {
	return a.SenderIP == a.TargetIP
}

// Marshal encodes the packet. Both addresses must be IPv4.
func (a *ARP) Marshal() []byte {
	b := make([]byte, ARPLen)
	binary.BigEndian.PutUint16(b[0:2], ARPHardwareType)
	binary.BigEndian.PutUint16(b[2:4], core.EtherTypeIPv4)
	b[4] = arpHWAddrLen
	b[5] = arpIPAddrLen
	binary.BigEndian.PutUint16(b[6:8], uint16(a.Op))
	binary.BigEndian.PutUint64(b[8:16], uint64(a.Sender.EUI64))
	b[16] = a.Sender.MaxRec
	b[17] = uint8(a.Sender.Speed)
	binary.BigEndian.PutUint16(b[18:20], a.Sender.FIFOHi())
	binary.BigEndian.PutUint32(b[20:24], a.Sender.FIFOLo())
	sip := a.SenderIP.As4()
	tip := a.TargetIP.As4()
	copy(b[24:28], sip[:])
	copy(b[28:32], tip[:])
	return b
}

// DecodeARP parses and validates an ARP-1394 packet.
func DecodeARP(data []byte) (ARP, error) {
	if len(data) < ARPLen {
		return ARP{}, core.ErrMalformedARP
	}
	if binary.BigEndian.Uint16(data[0:2]) != ARPHardwareType ||
		binary.BigEndian.Uint16(data[2:4]) != core.EtherTypeIPv4 ||
		data[4] != arpHWAddrLen || data[5] != arpIPAddrLen {
		return ARP{}, core.ErrMalformedARP
	}
	op := ARPOp(binary.BigEndian.Uint16(data[6:8]))
	if op != ARPRequest && op != ARPReply {
		return ARP{}, core.ErrMalformedARP
	}
	return ARP{
		Op: op,
		Sender: core.HWAddr{
			EUI64:  core.EUI64(binary.BigEndian.Uint64(data[8:16])),
			MaxRec: data[16],
			Speed:  core.Speed(data[17]),
			FIFO:   uint64(binary.BigEndian.Uint16(data[18:20]))<<32 | uint64(binary.BigEndian.Uint32(data[20:24])),
		},
		SenderIP: netip.AddrFrom4([4]byte(data[24:28])),
		TargetIP: netip.AddrFrom4([4]byte(data[28:32])),
	}, nil
}
