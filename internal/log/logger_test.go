package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/fwip/internal/config"
)

func TestGetLoggerBeforeInit(t *testing.T) {
	l := GetLogger()
	require.NotNil(t, l)
	assert.True(t, l.IsInfoEnabled())
}

func TestInitLevels(t *testing.T) {
	require.NoError(t, Init(config.LogConfig{Level: "debug", Format: "text"}))
	assert.True(t, GetLogger().IsDebugEnabled())

	require.NoError(t, Init(config.LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, GetLogger().IsInfoEnabled())
	assert.False(t, GetLogger().IsDebugEnabled())

	t.Cleanup(func() { _ = Init(config.LogConfig{Level: "info"}) })
}

func TestInitRejectsBadConfig(t *testing.T) {
	assert.Error(t, Init(config.LogConfig{Level: "loud"}))
	assert.Error(t, Init(config.LogConfig{Level: "info", Format: "xml"}))

	err := Init(config.LogConfig{
		Level:   "info",
		Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}},
	})
	assert.Error(t, err)
}

func TestInitWithFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fwip.log")

	require.NoError(t, Init(config.LogConfig{
		Level:  "info",
		Format: "text",
		Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{
			Enabled:  true,
			Path:     path,
			Rotation: config.RotationConfig{MaxSizeMB: 1, MaxBackups: 1},
		}},
	}))
	t.Cleanup(func() { _ = Init(config.LogConfig{Level: "info"}) })

	GetLogger().WithField("link", "fw0").Info("channel acquired")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "link=fw0")
	assert.Contains(t, string(data), "channel acquired")

	// replacing the logger closes the file; later lines go elsewhere
	require.NoError(t, Init(config.LogConfig{Level: "info"}))
	GetLogger().Info("after reinit")
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "after reinit")
}

func TestFormatterPattern(t *testing.T) {
	f := &formatter{pattern: "%time [%level] %field %msg%n", time: "15:04:05"}
	entry := &logrus.Entry{
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "reassembly expired",
		Data:    logrus.Fields{"src": "0xffc1", "label": 7},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "03:04:05 [WARNING] label=7,src=0xffc1 reassembly expired\n", string(out))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestMultiWriterKeepsWriting(t *testing.T) {
	var buf bytes.Buffer
	w := NewMultiWriter(failingWriter{}, &buf)

	n, err := w.Write([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, "hello", buf.String())
	assert.Equal(t, 1, w.Failures())
	assert.NoError(t, w.Close())
}
