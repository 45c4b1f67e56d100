// Package listing discovers candidate posts for a source. The extraction
// coordinator treats it as an upstream collaborator: implementations fill
// descriptive post fields only and never persist anything.
package listing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedstash/internal/config"
	"feedstash/internal/models"
)

// Candidate pairs a descriptive post with the author name the feed
// reported. Topic listings need the name to resolve the owning author
// source; user listings ignore it.
type Candidate struct {
	Post       *models.Post
	AuthorName string
}

// Lister obtains recent posts for one source, newest-first, capped at limit.
type Lister interface {
	List(ctx context.Context, source *models.Source, limit int) ([]Candidate, error)
}

// FeedLister lists posts from RSS/Atom feeds. The feed URL comes from a
// per-kind template holding one %s for the source name.
type FeedLister struct {
	parser        *gofeed.Parser
	userTemplate  string
	topicTemplate string
}

func NewFeedLister(client *http.Client, cfg *config.Config) *FeedLister {
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = cfg.UserAgent
	return &FeedLister{
		parser:        parser,
		userTemplate:  cfg.FeedURLUser,
		topicTemplate: cfg.FeedURLTopic,
	}
}

func (l *FeedLister) List(ctx context.Context, source *models.Source, limit int) ([]Candidate, error) {
	feedURL, err := l.feedURL(source)
	if err != nil {
		return nil, err
	}
	feed, err := l.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed for %s: %w", source.Name, err)
	}

	items := make([]*gofeed.Item, 0, len(feed.Items))
	for _, item := range feed.Items {
		// undated items cannot be ordered or checked against the watermark
		if itemTime(item) != nil {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return itemTime(items[i]).After(*itemTime(items[j]))
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		link := contentLink(item)
		candidates = append(candidates, Candidate{
			Post: &models.Post{
				RemoteID: remoteID(item),
				Title:    item.Title,
				URL:      link,
				Domain:   domainOf(link),
				Nsfw:     hasNsfwCategory(item),
				PostedAt: itemTime(item).UTC(),
			},
			AuthorName: authorName(item),
		})
	}
	return candidates, nil
}

func (l *FeedLister) feedURL(source *models.Source) (string, error) {
	template := l.userTemplate
	if source.Kind == models.SourceKindTopic {
		template = l.topicTemplate
	}
	if template == "" {
		return "", fmt.Errorf("no feed url template configured for %s sources", source.Kind)
	}
	return fmt.Sprintf(template, url.PathEscape(source.Name)), nil
}

func itemTime(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}

// contentLink prefers the enclosure when the feed carries one; the item
// link then usually points at a landing page rather than the media itself.
func contentLink(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			return enc.URL
		}
	}
	return item.Link
}

func remoteID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

func authorName(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, author := range item.Authors {
		if author != nil && author.Name != "" {
			return author.Name
		}
	}
	return ""
}

func domainOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func hasNsfwCategory(item *gofeed.Item) bool {
	for _, category := range item.Categories {
		if strings.EqualFold(strings.TrimSpace(category), "nsfw") {
			return true
		}
	}
	return false
}
