package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fwip/internal/core"
)

func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestEncodeUnfragmentedLayout(t *testing.T) {
	frame := EncodeUnfragmented(core.EtherTypeIPv4, []byte{0x45, 0x00})

	assert.Equal(t, []byte{0x00, 0x00, 0x08, 0x00, 0x45, 0x00}, frame)

	f, err := DecodeEncapsulation(frame)
	require.NoError(t, err)
	assert.Equal(t, Unfragmented, f.Kind)
	assert.Equal(t, core.EtherTypeIPv4, f.EtherType)
	assert.Equal(t, []byte{0x45, 0x00}, f.Payload)
}

func TestEncodeFragmentLayout(t *testing.T) {
	// First fragment: lf=1, size-1=2999 (0x0BB7), ether_type, dgl
	first := EncodeFragment(FirstFragment, 3000, 0, 0x1234, core.EtherTypeIPv4, []byte{0xAA})
	assert.Equal(t, []byte{0x4B, 0xB7, 0x08, 0x00, 0x12, 0x34, 0x00, 0x00, 0xAA}, first)

	// Last fragment: lf=2, fragment_offset=1500 (0x05DC)
	last := EncodeFragment(LastFragment, 3000, 1500, 0x1234, core.EtherTypeIPv4, []byte{0xBB})
	assert.Equal(t, []byte{0x8B, 0xB7, 0x05, 0xDC, 0x12, 0x34, 0x00, 0x00, 0xBB}, last)

	// Interior fragment: lf=3
	interior := EncodeFragment(InteriorFragment, 3000, 8, 1, 0, nil)
	assert.Equal(t, byte(0xCB), interior[0])
}

func TestFragmentRoundTrip(t *testing.T) {
	payload := []byte("fragment payload")
	tests := []struct {
		name      string
		kind      FragmentKind
		size      int
		offset    int
		label     uint16
		etherType uint16
	}{
		{"first", FirstFragment, 4096, 0, 0, core.EtherTypeIPv6},
		{"interior", InteriorFragment, 4096, 1024, 0xFFFF, 0},
		{"last", LastFragment, 4096, 4080, 7, 0},
		{"max size", FirstFragment, MaxDatagramSize, 0, 42, core.EtherTypeIPv4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := EncodeFragment(tt.kind, tt.size, tt.offset, tt.label, tt.etherType, payload)
			f, err := DecodeEncapsulation(raw)
			require.NoError(t, err)

			assert.Equal(t, Frame{
				Kind:         tt.kind,
				EtherType:    tt.etherType,
				DatagramSize: tt.size,
				Offset:       tt.offset,
				Label:        tt.label,
				Payload:      payload,
			}, f)
		})
	}
}

func TestDecodeEncapsulationTruncated(t *testing.T) {
	_, err := DecodeEncapsulation([]byte{0x00, 0x00, 0x08})
	assert.ErrorIs(t, err, core.ErrTruncated)

	// fragment header needs 8 bytes
	_, err = DecodeEncapsulation([]byte{0x4B, 0xB7, 0x08, 0x00, 0x00})
	assert.ErrorIs(t, err, core.ErrTruncated)
	assert.True(t, errors.Is(err, core.ErrMalformedPacket))
}

func TestFragmentFitsUnfragmented(t *testing.T) {
	datagram := patterned(1504)

	frames, err := Fragment(core.EtherTypeIPv4, datagram, 1500, 9)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	f, err := DecodeEncapsulation(frames[0])
	require.NoError(t, err)
	assert.Equal(t, Unfragmented, f.Kind)
	assert.True(t, bytes.Equal(datagram, f.Payload))
}

func TestFragment3000Over1500(t *testing.T) {
	datagram := patterned(3000)

	frames, err := Fragment(core.EtherTypeIPv4, datagram, 1500, 77)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	first, err := DecodeEncapsulation(frames[0])
	require.NoError(t, err)
	last, err := DecodeEncapsulation(frames[1])
	require.NoError(t, err)

	assert.Equal(t, FirstFragment, first.Kind)
	assert.Equal(t, LastFragment, last.Kind)
	// The wire field is biased by -1 in both headers.
	assert.Equal(t, []byte{0x4B, 0xB7}, frames[0][0:2])
	assert.Equal(t, []byte{0x8B, 0xB7}, frames[1][0:2])
	assert.Equal(t, 3000, first.DatagramSize)
	assert.Equal(t, 1500, last.Offset)
	assert.Equal(t, uint16(77), last.Label)

	joined := append(append([]byte{}, first.Payload...), last.Payload...)
	assert.Equal(t, datagram, joined)
}

func TestFragmentInteriorKinds(t *testing.T) {
	frames, err := Fragment(core.EtherTypeIPv6, patterned(5000), 1000, 1)
	require.NoError(t, err)
	require.Len(t, frames, 5)

	kinds := make([]FragmentKind, 0, len(frames))
	for _, raw := range frames {
		f, err := DecodeEncapsulation(raw)
		require.NoError(t, err)
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []FragmentKind{FirstFragment, InteriorFragment, InteriorFragment, InteriorFragment, LastFragment}, kinds)
}

func TestFragmentRejectsOversize(t *testing.T) {
	_, err := Fragment(core.EtherTypeIPv4, make([]byte, MaxDatagramSize+1), 1500, 0)
	assert.ErrorIs(t, err, core.ErrDatagramTooLarge)

	_, err = Fragment(core.EtherTypeIPv4, make([]byte, 10), 0, 0)
	assert.Error(t, err)
}

func TestMaxPayload(t *testing.T) {
	assert.Equal(t, 2048, MaxPayloadForRec(10))
	assert.Equal(t, 512, MaxPayloadForSpeed(core.S100))
	assert.Equal(t, 2048, MaxPayloadForSpeed(core.S400))
	assert.Equal(t, 512, MaxPayload(10, core.S100))
	assert.Equal(t, 1024, MaxPayload(9, core.S800))
}
