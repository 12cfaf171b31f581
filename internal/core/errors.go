// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every receive-side error is recovered locally: the packet is
// dropped and counted, never escalated.
var (
	// Codec errors
	ErrMalformedPacket = errors.New("fwip: malformed packet")
	ErrTruncated       = fmt.Errorf("%w: truncated header", ErrMalformedPacket)
	ErrInvalidGASP     = fmt.Errorf("%w: invalid GASP specifier or version", ErrMalformedPacket)
	ErrForeignBus      = fmt.Errorf("%w: source on foreign bus", ErrMalformedPacket)
	ErrMalformedARP    = fmt.Errorf("%w: malformed ARP-1394 packet", ErrMalformedPacket)
	ErrUnknownProtocol = errors.New("fwip: unknown protocol")

	// Resolution and transmit errors
	ErrResolutionFailed      = errors.New("fwip: address resolution failed")
	ErrNoDescriptorAvailable = errors.New("fwip: no transmit descriptor available")
	ErrNoChannelAvailable    = errors.New("fwip: no isochronous channel available")
	ErrDatagramTooLarge      = errors.New("fwip: datagram exceeds link MTU")

	// Reassembly errors
	ErrReassemblyExpired = errors.New("fwip: fragment reassembly expired")
	ErrOrphanFragment    = fmt.Errorf("%w: fragment without first fragment", ErrMalformedPacket)

	// Lifecycle errors
	ErrLinkClosed    = errors.New("fwip: link closed")
	ErrConfigInvalid = errors.New("fwip: invalid configuration")
)
