//go:build !fwip_debug

package txpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoubleReleaseIgnored(t *testing.T) {
	p := New("unicast", 1, 0)
	other := New("stream", 1, 0)
	d, err := p.Acquire()
	require.NoError(t, err)

	p.Release(d)
	p.Release(d)
	assert.Equal(t, 0, p.InFlight())
	assert.Equal(t, 1, p.Capacity())

	foreign, err := other.Acquire()
	require.NoError(t, err)
	p.Release(foreign)
	p.Release(nil)
	assert.Equal(t, 1, other.InFlight())
	assert.Equal(t, 0, p.InFlight())
}
