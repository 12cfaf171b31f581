// Package codec implements the RFC 2734 / RFC 3146 wire formats: link
// encapsulation and fragmentation, GASP, ARP-1394, MCAP and the 1394 NDP
// link-layer option. All multi-byte fields are big-endian on the wire.
package codec

import "firestige.xyz/fwip/internal/core"

// MaxPayloadForRec returns the largest asynchronous payload a node accepts
// for the given max_rec value: 2^(max_rec+1) bytes.
func MaxPayloadForRec(maxRec uint8) int {
	if maxRec > 14 {
		maxRec = 14
	}
	return 1 << (maxRec + 1)
}

// MaxPayloadForSpeed returns the asynchronous payload limit of a speed code.
func MaxPayloadForSpeed(s core.Speed) int {
	if s > core.S3200 {
		s = core.S3200
	}
	return 512 << s
}

// MaxPayload returns the usable payload towards a node, limited by both its
// max_rec and its speed.
func MaxPayload(maxRec uint8, s core.Speed) int {
	return min(MaxPayloadForRec(maxRec), MaxPayloadForSpeed(s))
}
