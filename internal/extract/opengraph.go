package extract

import (
	"context"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"feedstash/internal/models"
)

// OpenGraph scrapes a post's landing page for og:video/og:image meta tags.
// It backs hosts that publish open graph media but have no stable API,
// like streamable.
type OpenGraph struct {
	client    *http.Client
	userAgent string
}

func NewOpenGraph(client *http.Client, userAgent string) *OpenGraph {
	return &OpenGraph{client: client, userAgent: userAgent}
}

var ogVideoSelectors = []string{
	`meta[property="og:video:secure_url"]`,
	`meta[property="og:video:url"]`,
	`meta[property="og:video"]`,
}

func (o *OpenGraph) Extract(ctx context.Context, post *models.Post) ([]Item, error) {
	header := http.Header{}
	header.Set("User-Agent", o.userAgent)
	resp, err := get(ctx, o.client, post.URL, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, models.NewExtractionError(models.FailedToLocateContent, "could not parse host page", err)
	}

	for _, selector := range ogVideoSelectors {
		if mediaURL, ok := doc.Find(selector).Attr("content"); ok && mediaURL != "" {
			return []Item{{Title: post.Title, URL: mediaURL, Extension: mediaExtension(mediaURL, "mp4")}}, nil
		}
	}
	if mediaURL, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok && mediaURL != "" {
		return []Item{{Title: post.Title, URL: mediaURL, Extension: mediaExtension(mediaURL, "jpg")}}, nil
	}
	return nil, models.NewExtractionError(models.FailedToLocateContent, "page exposes no open graph media", nil)
}

// mediaExtension takes the extension from the media URL path, falling back
// when the host serves extensionless links.
func mediaExtension(rawURL, fallback string) string {
	u, err := parseURL(rawURL)
	if err != nil {
		return fallback
	}
	if ext := extensionOf(u.Path); ext != "" && IsMediaExtension(ext) {
		return ext
	}
	return fallback
}
