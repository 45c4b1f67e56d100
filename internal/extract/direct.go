package extract

import (
	"context"
	"strings"

	"feedstash/internal/models"
)

// Direct handles URLs that already point at a media file. No remote call
// is made; the post URL is the download URL.
type Direct struct{}

func NewDirect() *Direct {
	return &Direct{}
}

func (d *Direct) Extract(_ context.Context, post *models.Post) ([]Item, error) {
	u, err := parseURL(post.URL)
	if err != nil {
		return nil, err
	}
	ext := extensionOf(u.Path)
	if ext == "" || !IsMediaExtension(ext) {
		return nil, models.NewExtractionError(models.UnsupportedFormat, "url does not point at a supported media file", nil)
	}
	itemURL := post.URL
	if ext == "gifv" {
		// imgur serves .gifv as an html page wrapping the real mp4
		u.Path = strings.TrimSuffix(u.Path, ".gifv") + ".mp4"
		itemURL = u.String()
		ext = "mp4"
	}
	return []Item{{Title: post.Title, URL: itemURL, Extension: ext}}, nil
}
