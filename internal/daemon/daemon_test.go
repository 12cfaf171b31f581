package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fwip/internal/config"
	"firestige.xyz/fwip/internal/link"
)

func writeConfig(t *testing.T, dir, level string) string {
	t.Helper()
	content := fmt.Sprintf(`
fwip:
  log:
    level: %s
  metrics:
    enabled: true
    listen: 127.0.0.1:0
  watchdog:
    tick: 10ms
  link:
    mcap:
      lease_ticks: 20
      advertise_interval: 5
      solicit_ticks: 3
  tap:
    enabled: true
    path: %s
  simulation:
    traffic_interval: 20ms
    nodes:
      - name: %s-a
        eui64: "00:11:22:33:44:55:66:01"
        ipv4: 10.0.0.1
        groups: [239.1.1.1]
      - name: %s-b
        eui64: "00:11:22:33:44:55:66:02"
        ipv4: 10.0.0.2
        max_rec: 8
        groups: [239.1.1.1]
`, level, filepath.Join(dir, "fwip.pcap"), t.Name(), t.Name())
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func startDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	dir := t.TempDir()
	path := writeConfig(t, dir, "info")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	d := New(cfg, path, filepath.Join(dir, "fwip.pid"))
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)
	return d, dir
}

func TestDaemonCarriesTraffic(t *testing.T) {
	d, dir := startDaemon(t)

	_, err := os.Stat(filepath.Join(dir, "fwip.pid"))
	require.NoError(t, err, "PID file written")

	resp, err := http.Get("http://" + d.metricsServer.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	b := d.nodes[1].stack
	require.Eventually(t, func() bool {
		_, probes, resolved := b.counters()
		return probes >= 4 && resolved >= 1
	}, 5*time.Second, 10*time.Millisecond)

	// the shared group ends up on a dedicated channel
	require.Eventually(t, func() bool {
		owned := 0
		for _, s := range d.Stats() {
			owned += s.ChannelsOwned
		}
		return owned == 1
	}, 5*time.Second, 10*time.Millisecond)

	links, err := http.Get("http://" + d.metricsServer.Addr() + "/links")
	require.NoError(t, err)
	var status map[string]link.Stats
	require.NoError(t, json.NewDecoder(links.Body).Decode(&status))
	links.Body.Close()
	require.Len(t, status, 2)
	assert.Positive(t, status[t.Name()+"-a"].DatagramsSent)

	d.Stop()
	_, err = os.Stat(filepath.Join(dir, "fwip.pid"))
	assert.True(t, os.IsNotExist(err), "PID file removed")

	info, err := os.Stat(filepath.Join(dir, "fwip.pcap"))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(24), "capture holds packets past the file header")
}

func TestRunStopsOnShutdown(t *testing.T) {
	d, _ := startDaemon(t)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()
	d.Shutdown()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}
	// stopping again is harmless
	d.Stop()
}

func TestReloadLogLevel(t *testing.T) {
	d, dir := startDaemon(t)
	assert.Equal(t, "info", d.config.Log.Level)

	writeConfig(t, dir, "debug")
	require.NoError(t, d.Reload())
	assert.Equal(t, "debug", d.config.Log.Level)

	writeConfig(t, dir, "shout")
	assert.Error(t, d.Reload())
	assert.Equal(t, "debug", d.config.Log.Level)
}

func TestReloadWithoutFile(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	d := New(cfg, "", "")
	assert.Error(t, d.Reload())
}
