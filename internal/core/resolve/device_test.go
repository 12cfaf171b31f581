package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fwip/internal/core"
)

func TestDeviceGracePeriod(t *testing.T) {
	d := NewDevices(2)
	info := core.DeviceInfo{EUI64: 0xA, Handle: 1, MaxRec: 10, Speed: core.S400}

	_, created := d.Attach(info)
	require.True(t, created)

	h, ok := d.DeviceForEUI64(0xA)
	require.True(t, ok)
	assert.Equal(t, core.DeviceHandle(1), h)

	require.True(t, d.Detach(0xA))
	_, ok = d.DeviceForEUI64(0xA)
	assert.False(t, ok, "departed device is not usable")

	assert.Empty(t, d.Tick())
	// Device comes back before the grace period ends: same record, no re-creation.
	drb, created := d.Attach(core.DeviceInfo{EUI64: 0xA, Handle: 7, MaxRec: 9, Speed: core.S200})
	assert.False(t, created)
	assert.True(t, drb.Present)
	assert.Equal(t, 0, drb.Timer)
	assert.Equal(t, core.DeviceHandle(7), drb.Device)

	d.Detach(0xA)
	d.Tick()
	assert.Equal(t, []core.EUI64{0xA}, d.Tick())
	assert.Equal(t, 0, d.Len())
}

func TestDevicePresentNeverAges(t *testing.T) {
	d := NewDevices(1)
	d.Attach(core.DeviceInfo{EUI64: 0xB, Handle: 2})

	for i := 0; i < 10; i++ {
		assert.Empty(t, d.Tick())
	}
	assert.False(t, d.Detach(0xC))
	assert.True(t, d.Remove(0xB))
	assert.False(t, d.Remove(0xB))
}
