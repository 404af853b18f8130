package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositivePCDWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PCD.FrequencyWeight = 0
	cfg.PCD.RecencyWeight = 0
	cfg.PCD.DistanceWeight = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().SocketPath, cfg.SocketPath)
}

func TestLoadReadsYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pscue.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /custom/data\nsocket_path: /custom/pscued.sock\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/custom/data", cfg.DataDir)
	assert.Equal(t, "/custom/pscued.sock", cfg.SocketPath)
}

func TestEnvOverrideWinsOverFileValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pscue.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /from-file\n"), 0o644))

	t.Setenv("PSCUE_DATA_DIR", "/from-env")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from-env", cfg.DataDir)
}

func TestStorePathJoinsRelativePathUnderDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/srv/pscue"
	cfg.Store.Path = "db/pscue.db"
	assert.Equal(t, "/srv/pscue/db/pscue.db", cfg.StorePath())
}

func TestStorePathLeavesAbsolutePathUntouched(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/srv/pscue"
	cfg.Store.Path = "/var/lib/pscue.db"
	assert.Equal(t, "/var/lib/pscue.db", cfg.StorePath())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "pscue.yaml")
	cfg := DefaultConfig()
	cfg.DataDir = "/round/trip"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/round/trip", loaded.DataDir)
}
