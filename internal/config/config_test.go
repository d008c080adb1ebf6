package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "serial", cfg.Transport)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, uint8(1), cfg.RFCOMMChannel)
	assert.Equal(t, 51.2, cfg.SamplingRate)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wearlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport: bridge
url: ws://localhost:8765/device
sampling_rate: 204.8
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bridge", cfg.Transport)
	assert.Equal(t, "ws://localhost:8765/device", cfg.URL)
	assert.Equal(t, 204.8, cfg.SamplingRate)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched keys keep their defaults.
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	cfg.LogLevel = "shouting"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}
