package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedstash/internal/models"
)

func TestDirect_ExtractReturnsPostURL(t *testing.T) {
	direct := NewDirect()
	post := &models.Post{Title: "sunset", URL: "https://cdn.example.com/media/sunset.jpg"}

	items, err := direct.Extract(context.Background(), post)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "sunset", items[0].Title)
	assert.Equal(t, post.URL, items[0].URL)
	assert.Equal(t, "jpg", items[0].Extension)
}

func TestDirect_ExtractRewritesGifv(t *testing.T) {
	direct := NewDirect()
	post := &models.Post{Title: "loop", URL: "https://i.imgur.com/abc123.gifv"}

	items, err := direct.Extract(context.Background(), post)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "https://i.imgur.com/abc123.mp4", items[0].URL)
	assert.Equal(t, "mp4", items[0].Extension)
}

func TestDirect_ExtractRejectsUnsupportedFormat(t *testing.T) {
	direct := NewDirect()
	post := &models.Post{Title: "installer", URL: "https://files.example.com/tool.exe"}

	_, err := direct.Extract(context.Background(), post)
	require.Error(t, err)

	var exErr *models.ExtractionError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, models.UnsupportedFormat, exErr.Kind)
}

func TestDirect_ExtractRejectsExtensionlessURL(t *testing.T) {
	direct := NewDirect()
	post := &models.Post{Title: "page", URL: "https://example.com/watch/abc"}

	_, err := direct.Extract(context.Background(), post)

	var exErr *models.ExtractionError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, models.UnsupportedFormat, exErr.Kind)
}
