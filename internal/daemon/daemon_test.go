package daemon

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pscue/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.SocketPath = filepath.Join(dir, "pscued.sock")
	cfg.Store.SaveInterval = time.Hour // avoid racing the test with a real tick

	d, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() { d.Shutdown() })
	return d
}

func TestStartListensAndShutdownRefusesNewConnections(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.SocketPath = filepath.Join(dir, "pscued.sock")
	cfg.Store.SaveInterval = time.Hour

	d, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	conn, err := net.DialTimeout("unix", cfg.SocketPath, time.Second)
	require.NoError(t, err)
	conn.Close()

	require.NoError(t, d.Shutdown())

	_, err = net.DialTimeout("unix", cfg.SocketPath, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestIngestThenSaveAllPersistsGraphDelta(t *testing.T) {
	d := newTestDaemon(t)

	d.Ingest("git commit -m initial", true, "")
	d.saveAll()

	snap, err := d.store.LoadGraph()
	require.NoError(t, err)
	cs, ok := snap.Commands["git"]
	require.True(t, ok)
	assert.Equal(t, 1, cs.TotalUsage)

	// Saving again with no new activity must not double-count.
	d.saveAll()
	snap2, err := d.store.LoadGraph()
	require.NoError(t, err)
	assert.Equal(t, 1, snap2.Commands["git"].TotalUsage)
}

func TestIngestFailureNeverPersistedToGraph(t *testing.T) {
	d := newTestDaemon(t)

	d.Ingest("git push --force", false, "")
	d.saveAll()

	snap, err := d.store.LoadGraph()
	require.NoError(t, err)
	assert.Empty(t, snap.Commands)
}

func TestIngestSuccessInvalidatesCacheForCommand(t *testing.T) {
	d := newTestDaemon(t)
	d.cache.Set("git|commit", nil)
	require.Equal(t, 1, d.cache.Len())

	d.Ingest("git commit -m wip", true, "")

	assert.Equal(t, 0, d.cache.Len())
}

func TestIngestFailureLeavesCacheUntouched(t *testing.T) {
	d := newTestDaemon(t)
	d.cache.Set("git|push", nil)

	d.Ingest("git push --force", false, "")

	assert.Equal(t, 1, d.cache.Len())
}

func TestStatsAggregatesAcrossLearners(t *testing.T) {
	d := newTestDaemon(t)
	d.Ingest("ls -la", true, "")

	stats := d.Stats()
	assert.Contains(t, stats, "graph")
	assert.Contains(t, stats, "history")
	assert.Contains(t, stats, "cache_len")
}

func TestAnalyzeContextSuggestsFromRecentHistory(t *testing.T) {
	d := newTestDaemon(t)
	d.Ingest("git add .", true, "")

	ctx := d.AnalyzeContext("")
	require.NotEmpty(t, ctx.RecentCommands)
	assert.Equal(t, "git add .", ctx.RecentCommands[0])
	assert.Contains(t, ctx.SuggestedNextCmds, "commit")
}
