// Package bus defines the collaborators a link talks to: the bus transport
// below it and the network stack above it.
package bus

import (
	"errors"
	"net/netip"

	"firestige.xyz/fwip/internal/core"
)

// ErrChannelBusy is returned by AcquireChannel when the IRM already has the
// channel allocated.
var ErrChannelBusy = errors.New("fwip: isochronous channel already allocated")

// ErrNoSuchDevice is reported when a unicast write names a device that is not
// on the bus.
var ErrNoSuchDevice = errors.New("fwip: no such device")

// CompletionFunc reports the outcome of a submitted transmit. It may run on
// any goroutine.
type CompletionFunc func(err error)

// Transport submits packets to the bus and manages channel allocation. Every
// method returns without waiting for the bus.
type Transport interface {
	// SubmitUnicastWrite queues a block write of data to addr on dev.
	SubmitUnicastWrite(dev core.DeviceHandle, addr uint64, data []byte, done CompletionFunc) error
	// SubmitAsyncStream queues an asynchronous stream packet on channel.
	SubmitAsyncStream(channel uint8, speed core.Speed, data []byte, done CompletionFunc) error
	// AcquireChannel allocates channel at the isochronous resource manager.
	AcquireChannel(channel uint8) error
	// ReleaseChannel returns an allocated channel.
	ReleaseChannel(channel uint8)
	// Listen starts receiving async stream packets on channel.
	Listen(channel uint8) error
	// Unlisten stops receiving on channel.
	Unlisten(channel uint8)
}

// Upper is the network stack a link delivers to.
type Upper interface {
	DeliverDatagram(etherType uint16, data []byte)
	DeliverARPResolution(ip netip.Addr, hw core.HWAddr)
}

// Receiver is the inbound side of a link, driven by the transport.
type Receiver interface {
	OnUnicastBlockWrite(src core.NodeID, addr uint64, data []byte)
	OnAsyncStreamPacket(channel uint8, data []byte)
	OnBusReset(generation uint32, nodeID core.NodeID)
	DeviceArrived(info core.DeviceInfo)
	DeviceDeparted(eui core.EUI64)
	DeviceRemoved(eui core.EUI64)
}
