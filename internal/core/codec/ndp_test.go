package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fwip/internal/core"
)

func TestNDPOptionRoundTrip(t *testing.T) {
	hw := core.HWAddr{EUI64: 0x0A0B0C0D0E0F1011, MaxRec: 9, Speed: core.S800, FIFO: 0xFFFF_F000_0000}

	raw := EncodeNDPOption(NDPOptionSourceLinkAddr, hw)
	require.Len(t, raw, NDPOptionLen)
	assert.Equal(t, byte(1), raw[0])
	assert.Equal(t, byte(3), raw[1])
	assert.Equal(t, make([]byte, 6), raw[18:24])

	typ, out, err := DecodeNDPOption(raw)
	require.NoError(t, err)
	assert.Equal(t, NDPOptionSourceLinkAddr, typ)
	assert.Equal(t, hw, out)

	body, err := DecodeNDPOptionData(raw[2:])
	require.NoError(t, err)
	assert.Equal(t, hw, body)
}

func TestNDPOptionErrors(t *testing.T) {
	_, _, err := DecodeNDPOption(make([]byte, 8))
	assert.ErrorIs(t, err, core.ErrTruncated)

	raw := EncodeNDPOption(NDPOptionTargetLinkAddr, core.HWAddr{})
	raw[1] = 1 // Ethernet-sized option
	_, _, err = DecodeNDPOption(raw)
	assert.ErrorIs(t, err, core.ErrMalformedPacket)
}
