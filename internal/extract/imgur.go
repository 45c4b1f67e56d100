package extract

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"feedstash/internal/models"
)

const defaultImgurAPI = "https://api.imgur.com/3"

// Imgur resolves album and single-image links through the imgur v3 API.
// Albums fan out to one item per image, numbered so their download titles
// stay distinct.
type Imgur struct {
	client    *http.Client
	clientID  string
	userAgent string
	api       string
}

func NewImgur(client *http.Client, clientID, userAgent string) *Imgur {
	return &Imgur{
		client:    client,
		clientID:  clientID,
		userAgent: userAgent,
		api:       defaultImgurAPI,
	}
}

type imgurImage struct {
	Link     string `json:"link"`
	MP4      string `json:"mp4"`
	Animated bool   `json:"animated"`
}

func (i *Imgur) Extract(ctx context.Context, post *models.Post) ([]Item, error) {
	if i.clientID == "" {
		return nil, models.NewExtractionError(models.HostUnavailable, "no imgur client id is configured", nil)
	}
	u, err := parseURL(post.URL)
	if err != nil {
		return nil, err
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(segments) >= 2 && (segments[0] == "a" || segments[0] == "gallery"):
		return i.extractAlbum(ctx, post, segments[1])
	case len(segments) >= 1 && segments[0] != "":
		last := segments[len(segments)-1]
		return i.extractImage(ctx, post, strings.TrimSuffix(last, path.Ext(last)))
	}
	return nil, models.NewExtractionError(models.FailedToLocateContent, "no imgur hash in url", nil)
}

func (i *Imgur) extractAlbum(ctx context.Context, post *models.Post, hash string) ([]Item, error) {
	var payload struct {
		Data []imgurImage `json:"data"`
	}
	if err := i.getJSON(ctx, fmt.Sprintf("%s/album/%s/images", i.api, hash), &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, models.NewExtractionError(models.FailedToLocateContent, "album holds no images", nil)
	}
	items := make([]Item, 0, len(payload.Data))
	for n, img := range payload.Data {
		item, err := imageItem(post, img)
		if err != nil {
			return nil, err
		}
		item.Title = fmt.Sprintf("%s %d", post.Title, n+1)
		items = append(items, item)
	}
	return items, nil
}

func (i *Imgur) extractImage(ctx context.Context, post *models.Post, hash string) ([]Item, error) {
	var payload struct {
		Data imgurImage `json:"data"`
	}
	if err := i.getJSON(ctx, fmt.Sprintf("%s/image/%s", i.api, hash), &payload); err != nil {
		return nil, err
	}
	item, err := imageItem(post, payload.Data)
	if err != nil {
		return nil, err
	}
	return []Item{item}, nil
}

func (i *Imgur) getJSON(ctx context.Context, url string, v any) error {
	header := http.Header{}
	header.Set("Authorization", "Client-ID "+i.clientID)
	header.Set("User-Agent", i.userAgent)
	return getJSON(ctx, i.client, url, header, v)
}

// imageItem picks the download URL for one imgur image. Animated posts
// carry a dedicated mp4 link that beats the page link.
func imageItem(post *models.Post, img imgurImage) (Item, error) {
	link := img.Link
	if img.Animated && img.MP4 != "" {
		link = img.MP4
	}
	if link == "" {
		return Item{}, models.NewExtractionError(models.FailedToLocateContent, "image entry has no link", nil)
	}
	u, err := parseURL(link)
	if err != nil {
		return Item{}, err
	}
	ext := extensionOf(u.Path)
	if ext == "" {
		return Item{}, models.NewExtractionError(models.UnsupportedFormat, "image link has no extension", nil)
	}
	return Item{Title: post.Title, URL: link, Extension: ext}, nil
}
