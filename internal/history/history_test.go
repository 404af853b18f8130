package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveSize(t *testing.T) {
	assert.Panics(t, func() { New(0) })
	assert.Panics(t, func() { New(-1) })
}

func TestAddEvictsOldest(t *testing.T) {
	h := New(2)
	h.Add(Entry{Command: "a"})
	h.Add(Entry{Command: "b"})
	h.Add(Entry{Command: "c"})

	recent := h.GetRecent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Command)
	assert.Equal(t, "b", recent[1].Command)
}

func TestGetRecentMostRecentFirst(t *testing.T) {
	h := New(5)
	for _, c := range []string{"a", "b", "c"} {
		h.Add(Entry{Command: c, Timestamp: time.Now()})
	}
	recent := h.GetRecent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Command)
	assert.Equal(t, "b", recent[1].Command)
}

func TestGetForCommandCaseInsensitive(t *testing.T) {
	h := New(10)
	h.Add(Entry{Command: "Git"})
	h.Add(Entry{Command: "git"})
	h.Add(Entry{Command: "ls"})

	matches := h.GetForCommand("GIT")
	assert.Len(t, matches, 2)
}

func TestGetMostRecent(t *testing.T) {
	h := New(3)
	_, ok := h.GetMostRecent()
	assert.False(t, ok)

	h.Add(Entry{Command: "a"})
	h.Add(Entry{Command: "b"})
	e, ok := h.GetMostRecent()
	require.True(t, ok)
	assert.Equal(t, "b", e.Command)
}

func TestClear(t *testing.T) {
	h := New(3)
	h.Add(Entry{Command: "a"})
	h.Clear()
	assert.Empty(t, h.GetRecent(0))
	stats := h.GetStatistics()
	assert.Equal(t, 0, stats.Count)
}

func TestStatistics(t *testing.T) {
	h := New(10)
	h.Add(Entry{Command: "git", Success: true})
	h.Add(Entry{Command: "git", Success: false})
	h.Add(Entry{Command: "ls", Success: true})

	stats := h.GetStatistics()
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, 2, stats.UniqueCommands)
}

func TestSnapshotRoundTrip(t *testing.T) {
	h := New(3)
	h.Add(Entry{Command: "a"})
	h.Add(Entry{Command: "b"})
	h.Add(Entry{Command: "c"})
	h.Add(Entry{Command: "d"})

	snap := h.Snapshot()
	require.Len(t, snap, 3)

	h2 := New(3)
	h2.LoadSnapshot(snap)
	assert.Equal(t, h.GetRecent(0), h2.GetRecent(0))
}
