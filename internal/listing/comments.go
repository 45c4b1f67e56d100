package listing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mmcdole/gofeed"

	"feedstash/internal/config"
	"feedstash/internal/models"
)

// CommentLister obtains the discussion for one post. Returned comments
// carry descriptive fields only; PostID and SessionID are stamped by the
// caller before persisting.
type CommentLister interface {
	ListComments(ctx context.Context, post *models.Post) ([]*models.Comment, error)
}

// FeedCommentLister reads a post's comment feed. Comment feeds are flat,
// so every comment comes back top-level with a nil ParentID.
type FeedCommentLister struct {
	parser   *gofeed.Parser
	template string
}

func NewFeedCommentLister(client *http.Client, cfg *config.Config) *FeedCommentLister {
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = cfg.UserAgent
	return &FeedCommentLister{
		parser:   parser,
		template: cfg.FeedURLComments,
	}
}

func (l *FeedCommentLister) ListComments(ctx context.Context, post *models.Post) ([]*models.Comment, error) {
	if l.template == "" {
		return nil, fmt.Errorf("no comment feed url template configured")
	}
	feedURL := fmt.Sprintf(l.template, url.PathEscape(post.RemoteID))
	feed, err := l.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch comments for post %s: %w", post.RemoteID, err)
	}

	comments := make([]*models.Comment, 0, len(feed.Items))
	for _, item := range feed.Items {
		if itemTime(item) == nil {
			continue
		}
		comments = append(comments, &models.Comment{
			RemoteID: remoteID(item),
			Body:     item.Description,
			BodyHTML: item.Content,
			Author:   authorName(item),
			PostedAt: itemTime(item).UTC(),
		})
	}
	return comments, nil
}
