package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetGlobalState(t *testing.T) {
	t.Helper()
	CloseAll()
	debugMode = false
	logsDir = ""
	logLevel = LevelInfo
	jsonMode = false
	t.Cleanup(func() {
		CloseAll()
		debugMode = false
		logsDir = ""
		logLevel = LevelInfo
		jsonMode = false
	})
}

func TestGetReturnsNoopLoggerWhenDebugDisabled(t *testing.T) {
	resetGlobalState(t)
	l := Get(CategoryBoot)
	assert.NotPanics(t, func() { l.Info("hello %s", "world") })
	_, err := os.Stat(filepath.Join(t.TempDir(), "logs"))
	assert.True(t, os.IsNotExist(err))
}

func TestInitializeCreatesLogsDirAndWritesEntries(t *testing.T) {
	resetGlobalState(t)
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, true, "debug", false))

	Get(CategoryGraph).Info("argument learned: %s", "commit")

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestInitializeRequiresDataDirWhenDebugEnabled(t *testing.T) {
	resetGlobalState(t)
	assert.Error(t, Initialize("", true, "info", false))
}

func TestLevelFilteringSuppressesBelowThreshold(t *testing.T) {
	resetGlobalState(t)
	dir := t.TempDir()
	require.NoError(t, Initialize(dir, true, "warn", false))

	l := Get(CategoryStore)
	l.Debug("should not appear")
	l.Warn("should appear")

	data, err := os.ReadFile(logFilePath(t, dir, CategoryStore))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should not appear")
	assert.Contains(t, string(data), "should appear")
}

func TestStartTimerStopReturnsNonNegativeDuration(t *testing.T) {
	resetGlobalState(t)
	timer := StartTimer(CategoryCache, "lookup")
	d := timer.Stop()
	assert.GreaterOrEqual(t, d.Nanoseconds(), int64(0))
}

func logFilePath(t *testing.T, dir string, category Category) string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".log" {
			return filepath.Join(dir, "logs", e.Name())
		}
	}
	t.Fatalf("no log file found for category %s", category)
	return ""
}
