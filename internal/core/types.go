// Package core defines core types with zero external dependencies.
package core

import (
	"encoding/binary"
	"fmt"
	"net"
)

// EtherType values carried in the encapsulation header.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeIPv6 uint16 = 0x86DD
	EtherTypeMCAP uint16 = 0x8861
)

// KnownEtherType reports whether datagrams of this type may be delivered upward.
func KnownEtherType(et uint16) bool {
	switch et {
	case EtherTypeIPv4, EtherTypeARP, EtherTypeIPv6, EtherTypeMCAP:
		return true
	}
	return false
}

// Channel numbering.
const (
	ChannelCount            = 64
	DefaultBroadcastChannel = 31

	// StreamBroadcastChannel is the 1394 asynchronous stream broadcast
	// channel. It is never allocated for a multicast group.
	StreamBroadcastChannel = 63
)

// EUI64 is the 64-bit node unique ID read from a bus information block.
type EUI64 uint64

// ParseEUI64 parses "00:11:22:33:44:55:66:77" (or any form net.ParseMAC accepts
// for 8-octet addresses).
func ParseEUI64(s string) (EUI64, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return 0, fmt.Errorf("parse eui64 %q: %w", s, err)
	}
	if len(hw) != 8 {
		return 0, fmt.Errorf("parse eui64 %q: want 8 octets, got %d", s, len(hw))
	}
	return EUI64(binary.BigEndian.Uint64(hw)), nil
}

func (e EUI64) String() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(e))
	return net.HardwareAddr(b[:]).String()
}

// MarshalYAML renders the colon form.
func (e EUI64) MarshalYAML() (interface{}, error) { return e.String(), nil }

// NodeID is the 16-bit bus address of a node: bus_ID(10) | phy_ID(6).
type NodeID uint16

const (
	busIDMask NodeID = 0xFFC0
	phyIDMask NodeID = 0x003F

	// LocalBusID is the bus_ID value meaning "the local bus".
	LocalBusID NodeID = 0xFFC0
)

// NewNodeID builds a node ID on the local bus.
func NewNodeID(phy uint8) NodeID {
	return LocalBusID | NodeID(phy)&phyIDMask
}

// Phy returns the physical ID part.
func (n NodeID) Phy() uint8 { return uint8(n & phyIDMask) }

// SameBus reports whether both IDs carry the same bus_ID.
func (n NodeID) SameBus(o NodeID) bool { return n&busIDMask == o&busIDMask }

func (n NodeID) String() string { return fmt.Sprintf("0x%04x", uint16(n)) }

// Speed is the bus speed code (S100=0 ... S3200=5).
type Speed uint8

const (
	S100 Speed = iota
	S200
	S400
	S800
	S1600
	S3200
)

func (s Speed) String() string {
	if s > S3200 {
		return fmt.Sprintf("S?(%d)", uint8(s))
	}
	return fmt.Sprintf("S%d", 100<<s)
}

func (s Speed) MarshalYAML() (interface{}, error) { return s.String(), nil }

// HWAddr is the 1394 hardware address exchanged by ARP-1394 and NDP.
type HWAddr struct {
	EUI64  EUI64
	MaxRec uint8  // max payload = 2^(MaxRec+1) bytes
	Speed  Speed  // max speed code
	FIFO   uint64 // 48-bit unicast FIFO offset
}

// FIFOHi returns the upper 16 bits of the unicast FIFO address.
func (h HWAddr) FIFOHi() uint16 { return uint16(h.FIFO >> 32) }

// FIFOLo returns the lower 32 bits of the unicast FIFO address.
func (h HWAddr) FIFOLo() uint32 { return uint32(h.FIFO) }

// DeviceHandle identifies a bus unit to the transport. It survives bus resets.
type DeviceHandle uint32

// DeviceInfo describes a bus unit discovered by the transport.
type DeviceInfo struct {
	EUI64  EUI64
	Handle DeviceHandle
	MaxRec uint8
	Speed  Speed
}
