package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedstash/internal/models"
)

type stubExtractor struct {
	name string
}

func (s *stubExtractor) Extract(_ context.Context, _ *models.Post) ([]Item, error) {
	return nil, nil
}

func TestRegistry_ResolveMatchesHostKey(t *testing.T) {
	registry := NewRegistry()
	imgur := &stubExtractor{name: "imgur"}
	registry.Register(imgur, "imgur")

	resolved, err := registry.Resolve("https://imgur.com/a/abc123")
	require.NoError(t, err)
	assert.Same(t, imgur, resolved)
}

func TestRegistry_ResolveLongestKeyWins(t *testing.T) {
	registry := NewRegistry()
	generic := &stubExtractor{name: "generic"}
	specific := &stubExtractor{name: "specific"}
	registry.Register(generic, "imgur")
	registry.Register(specific, "i.imgur")

	resolved, err := registry.Resolve("https://i.imgur.com/gallery/xyz")
	require.NoError(t, err)
	assert.Same(t, specific, resolved)

	resolved, err = registry.Resolve("https://imgur.com/gallery/xyz")
	require.NoError(t, err)
	assert.Same(t, generic, resolved)
}

func TestRegistry_ResolveEqualLengthKeysBreakLexicographically(t *testing.T) {
	registry := NewRegistry()
	first := &stubExtractor{name: "aahost"}
	second := &stubExtractor{name: "zzhost"}
	registry.Register(second, "zzhost")
	registry.Register(first, "aahost")

	// host contains both keys at equal length
	resolved, err := registry.Resolve("https://aahost-zzhost.example.com/watch/1")
	require.NoError(t, err)
	assert.Same(t, first, resolved)
}

func TestRegistry_ResolveDirectShortCircuit(t *testing.T) {
	registry := NewRegistry()
	imgur := &stubExtractor{name: "imgur"}
	registry.Register(imgur, "imgur")

	// a direct file link never goes through host matching, even when a
	// registered key would claim the host
	resolved, err := registry.Resolve("https://i.imgur.com/abc123.jpg")
	require.NoError(t, err)
	assert.IsType(t, &Direct{}, resolved)
}

func TestRegistry_ResolveUnknownHost(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubExtractor{name: "imgur"}, "imgur")

	_, err := registry.Resolve("https://nobody-claims-this.example.com/post/1")
	assert.ErrorIs(t, err, ErrNoExtractor)
}

func TestRegistry_ResolveUnparseableURL(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Resolve("http://bad host/with spaces")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoExtractor)
}
