package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pscue/internal/provider"
)

func TestKeyDerivation(t *testing.T) {
	assert.Equal(t, "scoop", Key("scoop h", "h"))
	assert.Equal(t, "git|checkout", Key("git checkout m", "m"))
	assert.Equal(t, "scoop", Key("scoop ", ""))
}

func TestSetAndTryGet(t *testing.T) {
	c := New(10)
	items := []provider.Item{{Text: "help"}, {Text: "install"}}
	c.Set("scoop", items)

	got, ok := c.TryGet("scoop")
	require.True(t, ok)
	assert.Equal(t, items, got)
}

func TestTryGetIncrementsHits(t *testing.T) {
	c := New(10)
	c.Set("scoop", []provider.Item{{Text: "help"}})
	c.TryGet("scoop")
	c.TryGet("scoop")

	c.mu.Lock()
	e := c.elems["scoop"]
	hits := e.Value.(*node).entry.Hits
	c.mu.Unlock()
	assert.Equal(t, 2, hits)
}

func TestLRUEviction(t *testing.T) {
	c := New(2)
	c.Set("a", nil)
	c.Set("b", nil)
	c.Set("c", nil)

	_, ok := c.TryGet("a")
	assert.False(t, ok)
	_, ok = c.TryGet("b")
	assert.True(t, ok)
	_, ok = c.TryGet("c")
	assert.True(t, ok)
}

func TestInvalidateCommandRemovesOnlyMatchingKeys(t *testing.T) {
	c := New(10)
	c.Set("git|commit", []provider.Item{{Text: "-m"}})
	c.Set("git|checkout", []provider.Item{{Text: "main"}})
	c.Set("ls", []provider.Item{{Text: "-la"}})

	c.InvalidateCommand("git")

	_, ok := c.TryGet("git|commit")
	assert.False(t, ok)
	_, ok = c.TryGet("git|checkout")
	assert.False(t, ok)
	_, ok = c.TryGet("ls")
	assert.True(t, ok)
}

func TestInvalidateCommandIsCaseInsensitive(t *testing.T) {
	c := New(10)
	c.Set("Git|commit", nil)

	c.InvalidateCommand("git")

	assert.Equal(t, 0, c.Len())
}

func TestClear(t *testing.T) {
	c := New(10)
	c.Set("a", nil)
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestFilterByPrefixNeutrality(t *testing.T) {
	items := []provider.Item{{Text: "help"}, {Text: "install"}, {Text: "Home"}}
	filtered := FilterByPrefix(items, "h")
	require.Len(t, filtered, 2)
	assert.Equal(t, "help", filtered[0].Text)
	assert.Equal(t, "Home", filtered[1].Text)
}

func TestFilterByPrefixEmptyReturnsAll(t *testing.T) {
	items := []provider.Item{{Text: "a"}, {Text: "b"}}
	assert.Equal(t, items, FilterByPrefix(items, ""))
}
