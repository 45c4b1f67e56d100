package extract

import (
	"context"
	"net/http"
	"strings"

	"feedstash/internal/models"
)

const defaultRedgifsAPI = "https://api.redgifs.com/v2/gifs/"

// Redgifs resolves watch-page links through the redgifs v2 gifs API.
// The API exposes hd and sd renditions; hd wins when present.
type Redgifs struct {
	client    *http.Client
	userAgent string
	api       string
}

func NewRedgifs(client *http.Client, userAgent string) *Redgifs {
	return &Redgifs{
		client:    client,
		userAgent: userAgent,
		api:       defaultRedgifsAPI,
	}
}

func (r *Redgifs) Extract(ctx context.Context, post *models.Post) ([]Item, error) {
	u, err := parseURL(post.URL)
	if err != nil {
		return nil, err
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	gifID := segments[len(segments)-1]
	if gifID == "" {
		return nil, models.NewExtractionError(models.FailedToLocateContent, "no gif id in url", nil)
	}

	var payload struct {
		Gif struct {
			Urls map[string]string `json:"urls"`
		} `json:"gif"`
	}
	header := http.Header{}
	header.Set("User-Agent", r.userAgent)
	if err := getJSON(ctx, r.client, r.api+gifID, header, &payload); err != nil {
		return nil, err
	}

	downloadURL := payload.Gif.Urls["hd"]
	if downloadURL == "" {
		downloadURL = payload.Gif.Urls["sd"]
	}
	if downloadURL == "" {
		return nil, models.NewExtractionError(models.FailedToLocateContent,
			"failed to locate an appropriate download url in the host response data", nil)
	}
	return []Item{{Title: post.Title, URL: downloadURL, Extension: "mp4"}}, nil
}
