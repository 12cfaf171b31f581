package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fwip/internal/core"
)

func TestRunValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
fwip:
  watchdog:
    tick: 500ms
  simulation:
    nodes:
      - eui64: "00:11:22:33:44:55:66:01"
        ipv4: 10.0.0.1
`), 0644))

	var buf bytes.Buffer
	require.NoError(t, runValidate(path, &buf))
	assert.Contains(t, buf.String(), "VALID: 1 node(s), watchdog tick 500ms")
	assert.Contains(t, buf.String(), "name: fw0")
	assert.Contains(t, buf.String(), "00:11:22:33:44:55:66:01")
}

func TestRunValidateRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
fwip:
  link:
    mcap:
      broadcast_channel: 64
`), 0644))

	var buf bytes.Buffer
	err := runValidate(path, &buf)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	assert.Empty(t, buf.String())
}

func TestRunValidateDefaults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runValidate("", &buf))
	assert.Contains(t, buf.String(), "VALID: 0 node(s), watchdog tick 1s")
}

func TestVersionCmd_Execute(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "fwip "+Version)
}
