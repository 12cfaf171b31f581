package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/fwip/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
fwip:
  log:
    level: "debug"
    format: "json"
  watchdog:
    tick: 250ms
  link:
    unicast_fifo: "0xfffff0000000"
    mcap:
      lease_ticks: 30
      advertise_interval: 5
  tap:
    enabled: true
    path: /tmp/fw.pcap
    ether_types: [0x0800, "0x0806"]
  simulation:
    nodes:
      - name: fw0
        eui64: "00:11:22:33:44:55:66:77"
        ipv4: 10.0.0.1
        speed: S400
        groups: [239.1.1.1]
      - eui64: "00:11:22:33:44:55:66:78"
        ipv4: 10.0.0.2
        max_rec: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 250*time.Millisecond, cfg.Watchdog.Tick)
	assert.Equal(t, uint64(0xfffff0000000), cfg.Link.UnicastFIFO)
	assert.Equal(t, 30, cfg.Link.MCAP.LeaseTicks)
	assert.Equal(t, 5, cfg.Link.MCAP.AdvertiseInterval)
	assert.Equal(t, []uint16{0x0800, 0x0806}, cfg.Tap.EtherTypes)

	// defaults survive partial sections
	assert.Equal(t, 4, cfg.Link.MCAP.FinalWarnings)
	assert.Equal(t, uint8(core.DefaultBroadcastChannel), cfg.Link.MCAP.BroadcastChannel)
	assert.Equal(t, 600, cfg.Link.ARP.LifetimeTicks)
	assert.Equal(t, 65535, cfg.Tap.Snaplen)

	require.Len(t, cfg.Simulation.Nodes, 2)
	n0 := cfg.Simulation.Nodes[0]
	assert.Equal(t, "fw0", n0.Name)
	assert.Equal(t, core.EUI64(0x0011223344556677), n0.EUI64)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), n0.IPv4)
	assert.Equal(t, core.S400, n0.Speed)
	assert.Equal(t, uint8(10), n0.MaxRec)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("239.1.1.1")}, n0.Groups)

	n1 := cfg.Simulation.Nodes[1]
	assert.Equal(t, "fw1", n1.Name)
	assert.Equal(t, uint8(8), n1.MaxRec)
	assert.Equal(t, core.S100, n1.Speed)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FWIP_LOG_LEVEL", "warn")
	t.Setenv("FWIP_LINK_ARP_RETRY_TICKS", "3")

	path := writeConfig(t, "fwip:\n  log:\n    level: debug\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Link.ARP.RetryTicks)
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, time.Second, cfg.Watchdog.Tick)
	assert.Equal(t, 4096, cfg.Link.MaxDatagramSize)
	assert.Equal(t, 32, cfg.Link.TX.UnicastDescriptors)
	assert.Empty(t, cfg.Simulation.Nodes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "fwip:\n  log:\n    level: loud\n"},
		{"bad format", "fwip:\n  log:\n    format: xml\n"},
		{"broadcast channel", "fwip:\n  link:\n    mcap:\n      broadcast_channel: 64\n"},
		{"advertise after lease", "fwip:\n  link:\n    mcap:\n      lease_ticks: 10\n      advertise_interval: 10\n"},
		{"datagram too large", "fwip:\n  link:\n    max_datagram_size: 20000\n"},
		{"fifo too wide", "fwip:\n  link:\n    unicast_fifo: 0x1000000000000\n"},
		{"empty pool", "fwip:\n  link:\n    tx:\n      stream_descriptors: 0\n"},
		{"tap without path", "fwip:\n  tap:\n    enabled: true\n    path: \"\"\n"},
		{"duplicate eui", `
fwip:
  simulation:
    nodes:
      - {eui64: "00:00:00:00:00:00:00:01", ipv4: 10.0.0.1}
      - {eui64: "00:00:00:00:00:00:00:01", ipv4: 10.0.0.2}
`},
		{"missing ipv4", `
fwip:
  simulation:
    nodes:
      - {eui64: "00:00:00:00:00:00:00:01"}
`},
		{"unicast group", `
fwip:
  simulation:
    nodes:
      - {eui64: "00:00:00:00:00:00:00:01", ipv4: 10.0.0.1, groups: [10.1.1.1]}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
		})
	}
}

func TestLoadBadEUI64(t *testing.T) {
	_, err := Load(writeConfig(t, `
fwip:
  simulation:
    nodes:
      - {eui64: "not-an-eui", ipv4: 10.0.0.1}
`))
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
fwip:
  simulation:
    nodes:
      - {name: fw0, eui64: "00:11:22:33:44:55:66:77", ipv4: 10.0.0.1, speed: s800}
`))
	require.NoError(t, err)

	out, err := Dump(cfg)
	require.NoError(t, err)

	var doc map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &doc))
	require.Contains(t, doc, "fwip")
	assert.Contains(t, string(out), "00:11:22:33:44:55:66:77")
	assert.Contains(t, string(out), "S800")
	assert.Contains(t, string(out), "10.0.0.1")
	assert.Contains(t, string(out), "tick: 1s")
}
