package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigSaneValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, 64, cfg.Session.ReplayWindowSize)
	require.Equal(t, 5, cfg.Session.HandshakesPerMinute)
	require.Equal(t, 20, cfg.Session.HandshakesPerHour)
	require.Equal(t, 1_000_000, cfg.Relay.HalveAboveRecords)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Session.ReplayWindowSize = 128

	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 128, loaded.Session.ReplayWindowSize)
}

func TestLoadFromFileMissingReturnsError(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
