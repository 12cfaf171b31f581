package codec

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fwip/internal/core"
)

func TestARPRoundTrip(t *testing.T) {
	in := ARP{
		Op: ARPRequest,
		Sender: core.HWAddr{
			EUI64:  0x0011223344556677,
			MaxRec: 10,
			Speed:  core.S400,
			FIFO:   0x0001_2345_6789,
		},
		SenderIP: netip.MustParseAddr("10.0.0.1"),
		TargetIP: netip.MustParseAddr("10.0.0.5"),
	}

	raw := in.Marshal()
	require.Len(t, raw, ARPLen)
	assert.Equal(t, []byte{0x00, 0x18, 0x08, 0x00, 0x10, 0x04, 0x00, 0x01}, raw[0:8])
	assert.Equal(t, []byte{0x00, 0x01, 0x23, 0x45, 0x67, 0x89}, raw[18:24])

	out, err := DecodeARP(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.False(t, out.Gratuitous())
}

func TestDecodeARPMalformed(t *testing.T) {
	good := (&ARP{
		Op:       ARPReply,
		SenderIP: netip.MustParseAddr("10.0.0.1"),
		TargetIP: netip.MustParseAddr("10.0.0.1"),
	}).Marshal()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"short", func(b []byte) []byte { return b[:20] }},
		{"hardware type", func(b []byte) []byte { b[1] = 1; return b }},
		{"protocol type", func(b []byte) []byte { b[2] = 0x86; return b }},
		{"hw length", func(b []byte) []byte { b[4] = 6; return b }},
		{"ip length", func(b []byte) []byte { b[5] = 16; return b }},
		{"opcode", func(b []byte) []byte { b[7] = 9; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.mutate(append([]byte(nil), good...))
			_, err := DecodeARP(raw)
			assert.ErrorIs(t, err, core.ErrMalformedARP)
		})
	}

	arp, err := DecodeARP(good)
	require.NoError(t, err)
	assert.True(t, arp.Gratuitous())
}
