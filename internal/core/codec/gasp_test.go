package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fwip/internal/core"
)

func TestGASPLayout(t *testing.T) {
	src := core.NewNodeID(2) // 0xFFC2
	pkt := EncodeGASP(src, []byte{0xDE, 0xAD})

	assert.Equal(t, []byte{0xFF, 0xC2, 0x00, 0x00, 0x5E, 0x00, 0x00, 0x01, 0xDE, 0xAD}, pkt)
}

func TestGASPRoundTrip(t *testing.T) {
	local := core.NewNodeID(0)
	pkt := EncodeGASP(core.NewNodeID(5), []byte("inner"))

	src, inner, err := DecodeGASP(pkt, local)
	require.NoError(t, err)
	assert.Equal(t, core.NewNodeID(5), src)
	assert.Equal(t, []byte("inner"), inner)

	// RFC 3146 version is accepted too
	pkt = EncodeGASPVersion(core.NewNodeID(5), GASPVersionIPv6, []byte("v6"))
	_, inner, err = DecodeGASP(pkt, local)
	require.NoError(t, err)
	assert.Equal(t, []byte("v6"), inner)
}

func TestDecodeGASPErrors(t *testing.T) {
	local := core.NewNodeID(0)

	_, _, err := DecodeGASP([]byte{0xFF, 0xC2, 0x00}, local)
	assert.ErrorIs(t, err, core.ErrTruncated)

	bad := EncodeGASP(core.NewNodeID(1), nil)
	bad[4] = 0x5F
	_, _, err = DecodeGASP(bad, local)
	assert.ErrorIs(t, err, core.ErrInvalidGASP)

	badVersion := EncodeGASPVersion(core.NewNodeID(1), 3, nil)
	_, _, err = DecodeGASP(badVersion, local)
	assert.ErrorIs(t, err, core.ErrInvalidGASP)

	foreign := EncodeGASP(core.NodeID(0x0041), nil) // bus 1, phy 1
	_, _, err = DecodeGASP(foreign, local)
	assert.ErrorIs(t, err, core.ErrForeignBus)
	assert.ErrorIs(t, err, core.ErrMalformedPacket)
}
