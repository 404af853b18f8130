package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Provide(ctx context.Context, command, commandLine, wordToComplete string, flags Flags) ([]Item, error) {
	return []Item{{Text: s.name}}, nil
}

func TestResolveReturnsRegisteredFamilyProvider(t *testing.T) {
	cdProvider := &stubProvider{name: "cd"}
	r := NewRegistry(nil)
	r.Register("cd", cdProvider)
	r.Register("sl", cdProvider)

	p, ok := r.Resolve("sl")
	require.True(t, ok)
	items, err := p.Provide(context.Background(), "sl", "sl ", "", Flags{})
	require.NoError(t, err)
	assert.Equal(t, "cd", items[0].Text)
}

func TestResolveFallsBackWhenNoFamilyRegistered(t *testing.T) {
	fallback := &stubProvider{name: "fallback"}
	r := NewRegistry(fallback)

	p, ok := r.Resolve("anything")
	require.True(t, ok)
	items, _ := p.Provide(context.Background(), "anything", "anything ", "", Flags{})
	assert.Equal(t, "fallback", items[0].Text)
}

func TestResolveWithoutFallbackReturnsFalse(t *testing.T) {
	r := NewRegistry(nil)
	_, ok := r.Resolve("unregistered")
	assert.False(t, ok)
}
