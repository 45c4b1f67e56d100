package extract

import (
	"net/http"

	"feedstash/internal/config"
)

// NewDefaultRegistry wires the standard extractor set against one shared
// HTTP client.
func NewDefaultRegistry(client *http.Client, cfg *config.Config) *Registry {
	r := NewRegistry()
	r.Register(NewImgur(client, cfg.ImgurClientID, cfg.UserAgent), "imgur")
	r.Register(NewRedgifs(client, cfg.UserAgent), "redgifs")
	r.Register(NewOpenGraph(client, cfg.UserAgent), "streamable", "gfycat")
	return r
}
