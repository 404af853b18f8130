package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUsageEmptyArgsNoEntry(t *testing.T) {
	g := New(DefaultConfig())
	g.RecordUsage("git", nil, "")
	stats := g.GetStatistics()
	assert.Equal(t, 0, stats.CommandCount)
}

func TestRecordUsageCaseInsensitive(t *testing.T) {
	g := New(DefaultConfig())
	g.RecordUsage("Git", []string{"commit"}, "")
	g.RecordUsage("git", []string{"commit"}, "")
	stats := g.GetStatistics()
	require.Equal(t, 1, stats.CommandCount)
	assert.Equal(t, 2, stats.TotalUsages)
}

func TestUsageCountInvariant(t *testing.T) {
	g := New(DefaultConfig())
	g.RecordUsage("git", []string{"commit", "-m"}, "")
	g.RecordUsage("git", []string{"commit"}, "")

	snap := g.Snapshot()
	ck := snap.Commands["git"]
	require.Equal(t, 2, ck.TotalUsage)

	sum := 0
	for _, a := range ck.Arguments {
		assert.LessOrEqual(t, a.UsageCount, ck.TotalUsage)
		sum += a.UsageCount
	}
	assert.GreaterOrEqual(t, sum, ck.TotalUsage)
}

func TestCooccurrenceSymmetry(t *testing.T) {
	g := New(DefaultConfig())
	g.RecordUsage("git", []string{"commit", "-m"}, "")

	snap := g.Snapshot()
	ck := snap.Commands["git"]
	a := ck.Arguments["commit"]
	b := ck.Arguments["-m"]
	assert.Equal(t, a.Cooccurrence["-m"], b.Cooccurrence["commit"])
}

func TestGetSuggestionsExcludesAlreadyTyped(t *testing.T) {
	g := New(DefaultConfig())
	g.RecordUsage("git", []string{"commit", "-m"}, "")
	g.RecordUsage("git", []string{"push"}, "")

	sugg := g.GetSuggestions("git", []string{"commit"}, 10)
	var texts []string
	for _, s := range sugg {
		texts = append(texts, s.Text)
	}
	assert.NotContains(t, texts, "commit")
	assert.Contains(t, texts, "push")
}

func TestGetSuggestionsOrderedByScoreDescending(t *testing.T) {
	g := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		g.RecordUsage("git", []string{"commit"}, "")
	}
	g.RecordUsage("git", []string{"push"}, "")

	sugg := g.GetSuggestions("git", nil, 10)
	require.Len(t, sugg, 2)
	assert.Equal(t, "commit", sugg[0].Text)
	assert.GreaterOrEqual(t, sugg[0].Score, sugg[1].Score)
}

func TestGetParameterValues(t *testing.T) {
	g := New(DefaultConfig())
	// Uses the underlying RecordUsage path directly via a minimal parsed
	// line to avoid importing the parser package's Parse for this unit.
	g.RecordUsage("git", []string{"commit", "-m", "first"}, "")

	vals := g.GetParameterValues("git", "-m", 5)
	// RecordUsage alone does not populate parameter values (that's
	// RecordParsedUsage's job); expect no bindings yet.
	assert.Empty(t, vals)
}

func TestDeltaMirrorsIncrementsAndClears(t *testing.T) {
	g := New(DefaultConfig())
	g.RecordUsage("git", []string{"commit", "-m"}, "")

	delta := g.GetDelta()
	ck, ok := delta.Commands["git"]
	require.True(t, ok)
	assert.Equal(t, 1, ck.TotalUsage)
	assert.Equal(t, 1, ck.Arguments["commit"].UsageCount)

	g.ClearDelta()
	assert.Empty(t, g.GetDelta().Commands)

	// Clearing the delta must not touch cumulative state.
	snap := g.Snapshot()
	assert.Equal(t, 1, snap.Commands["git"].TotalUsage)
}

func TestCapacityEvictionBoundsCommands(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCommands = 2
	g := New(cfg)
	g.RecordUsage("cmd1", []string{"a"}, "")
	g.RecordUsage("cmd2", []string{"a"}, "")
	g.RecordUsage("cmd3", []string{"a"}, "")

	stats := g.GetStatistics()
	assert.LessOrEqual(t, stats.CommandCount, 2)
}
