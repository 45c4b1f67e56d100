// Package extract maps content URLs to host-specific extractors and turns
// them into downloadable items. Extractors may call the remote host to
// resolve galleries or media ids, but they never touch disk and never
// mutate stored state; creating rows from the returned items is the
// coordinator's job.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"feedstash/internal/models"
)

// Item is one downloadable unit an extractor located for a post. Title is
// raw; the coordinator derives the filesystem-safe name from it.
type Item struct {
	Title     string
	URL       string
	Extension string
}

// Extractor resolves a post's URL into downloadable items.
type Extractor interface {
	Extract(ctx context.Context, post *models.Post) ([]Item, error)
}

// ErrNoExtractor is returned by Resolve when no registered key claims the
// URL's host.
var ErrNoExtractor = errors.New("no extractor claims this host")

var imageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
}

// gifv is imgur's html wrapper around an mp4; Direct rewrites it.
var animatedExtensions = map[string]struct{}{
	"gif":  {},
	"gifv": {},
	"webm": {},
	"mp4":  {},
	"wmv":  {},
	"avi":  {},
	"mov":  {},
	"divx": {},
}

// IsImageExtension reports whether ext names a still image format.
func IsImageExtension(ext string) bool {
	_, ok := imageExtensions[strings.ToLower(ext)]
	return ok
}

// IsAnimatedExtension reports whether ext names a video or animated format.
func IsAnimatedExtension(ext string) bool {
	_, ok := animatedExtensions[strings.ToLower(ext)]
	return ok
}

// IsMediaExtension reports whether ext is anything the archiver stores.
func IsMediaExtension(ext string) bool {
	return IsImageExtension(ext) || IsAnimatedExtension(ext)
}

// extensionOf returns the lowercased extension of a URL path without the
// leading dot, or "" when the path has none.
func extensionOf(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, models.NewExtractionError(models.FailedToLocateContent, "unparseable content url", err)
	}
	return u, nil
}

type registration struct {
	key string
	ex  Extractor
}

// Registry maps URL host keys to extractors. URLs that already point at a
// media file bypass host matching and go to the direct extractor.
type Registry struct {
	direct  Extractor
	entries []registration
}

func NewRegistry() *Registry {
	return &Registry{direct: NewDirect()}
}

// Register claims one or more host substrings for ex. Longer keys match
// before shorter ones so a subdomain key beats its parent domain; equal
// lengths resolve in lexicographic order.
func (r *Registry) Register(ex Extractor, keys ...string) {
	for _, key := range keys {
		r.entries = append(r.entries, registration{key: strings.ToLower(key), ex: ex})
	}
	sort.SliceStable(r.entries, func(i, j int) bool {
		a, b := r.entries[i].key, r.entries[j].key
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
}

// Resolve picks the extractor responsible for a content URL.
func (r *Registry) Resolve(rawURL string) (Extractor, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse content url: %w", err)
	}
	if ext := extensionOf(u.Path); ext != "" && IsMediaExtension(ext) {
		return r.direct, nil
	}
	host := strings.ToLower(u.Hostname())
	for _, reg := range r.entries {
		if strings.Contains(host, reg.key) {
			return reg.ex, nil
		}
	}
	return nil, ErrNoExtractor
}
