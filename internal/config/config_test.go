package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidation(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Upstream.PositionEndpoint, cfg.Upstream.PositionEndpoint)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  host: 127.0.0.1\n  port: 9000\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SAILRELAY_PORT", "9100")
	t.Setenv("SAILRELAY_ANCHOR_LEFT_DEVICE_ID", "111")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 111, cfg.StartLine.AnchorLeftDeviceID)
}

func TestValidateRejectsAnchorOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.StartLine.AnchorLeftDeviceID = 5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anchor_left_device_id")
}

func TestValidateRejectsIdenticalAnchors(t *testing.T) {
	cfg := Default()
	cfg.StartLine.AnchorRightDeviceID = cfg.StartLine.AnchorLeftDeviceID
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.LogLevel = "verbose"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidateRejectsNonPositiveQueueSizes(t *testing.T) {
	cfg := Default()
	cfg.Queues.PerClient = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyEndpoints(t *testing.T) {
	cfg := Default()
	cfg.Upstream.GateEndpoint = "   "
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate_endpoint")
}
