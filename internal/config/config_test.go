package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Listen.Network)
	assert.Equal(t, "0.0.0.0:6653", cfg.Listen.Addr)
	assert.Equal(t, 64, cfg.Switch.TableCount)
	assert.Equal(t, uint32(1<<14), cfg.Switch.MaxEntriesPerTable)
	assert.Equal(t, uint16(128), cfg.Switch.MissSendLength)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ofswitchd.yaml")

	contents := `
listen:
  addr: "127.0.0.1:16653"
switch:
  table_count: 8
  miss_send_length: 256
log:
  level: debug
metrics:
  enabled: true
  addr: "127.0.0.1:19090"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:16653", cfg.Listen.Addr)
	assert.Equal(t, 8, cfg.Switch.TableCount)
	assert.Equal(t, uint16(256), cfg.Switch.MissSendLength)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:19090", cfg.Metrics.Addr)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/ofswitchd.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidTableCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ofswitchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("switch:\n  table_count: 256\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ofswitchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: verbose\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvironmentOverridesWinOverDefaults(t *testing.T) {
	t.Setenv("OFSWITCHD_LISTEN_ADDR", "10.0.0.1:6653")
	t.Setenv("OFSWITCHD_LOG_LEVEL", "warn")
	t.Setenv("OFSWITCHD_METRICS_ENABLED", "true")
	t.Setenv("OFSWITCHD_TABLE_COUNT", "4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:6653", cfg.Listen.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 4, cfg.Switch.TableCount)
}

func TestEnvironmentOverrideIgnoredWhenUnparsable(t *testing.T) {
	t.Setenv("OFSWITCHD_TABLE_COUNT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Switch.TableCount)
}
