// Package scrape coordinates one source's scan: list candidate posts,
// fan extraction out over a bounded worker pool, queue the resulting
// content, and settle the source's watermark once the whole batch is in.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"feedstash/internal/config"
	"feedstash/internal/events"
	"feedstash/internal/extract"
	"feedstash/internal/listing"
	"feedstash/internal/models"
	"feedstash/internal/observability"
	"feedstash/internal/repository"
)

// Deps bundles the coordinator's collaborators. CommentLister and
// Publisher may be nil, which disables comment harvesting and progress
// events respectively.
type Deps struct {
	Sources  repository.SourceRepository
	Posts    repository.PostRepository
	Comments repository.CommentRepository
	Contents repository.ContentRepository

	Lister        listing.Lister
	CommentLister listing.CommentLister
	Registry      *extract.Registry
	Publisher     events.Publisher
}

// Coordinator runs the extraction half of a session, one source at a
// time. Posts within a source extract concurrently; the watermark only
// moves after every post of the batch has settled.
type Coordinator struct {
	sources  repository.SourceRepository
	posts    repository.PostRepository
	comments repository.CommentRepository
	contents repository.ContentRepository

	lister        listing.Lister
	commentLister listing.CommentLister
	registry      *extract.Registry
	publisher     events.Publisher

	downloadDir string
	dateFloor   time.Time
	workers     int
}

func NewCoordinator(deps Deps, cfg *config.Config) *Coordinator {
	return &Coordinator{
		sources:       deps.Sources,
		posts:         deps.Posts,
		comments:      deps.Comments,
		contents:      deps.Contents,
		lister:        deps.Lister,
		commentLister: deps.CommentLister,
		registry:      deps.Registry,
		publisher:     deps.Publisher,
		downloadDir:   cfg.DownloadDir,
		dateFloor:     cfg.DateFloorTime(),
		workers:       cfg.ExtractionWorkers,
	}
}

// SourceReport summarizes one source's scan.
type SourceReport struct {
	Source         string    `json:"source"`
	Candidates     int       `json:"candidates"`
	Discovered     int       `json:"discovered"`
	Extracted      int       `json:"extracted"`
	Failed         int       `json:"failed"`
	Duplicates     int       `json:"duplicates"`
	ContentQueued  int       `json:"content_queued"`
	ContentSkipped int       `json:"content_skipped"`
	Comments       int       `json:"comments"`
	Watermark      time.Time `json:"watermark"`
	Advanced       bool      `json:"advanced"`
}

// outcome is one candidate's terminal state within the batch. postedAt
// is carried separately so candidates that never produced a row still
// take part in the watermark decision.
type outcome struct {
	postedAt  time.Time
	duplicate bool
	queued    int
	skipped   int
	comments  int
	err       error
}

// RunSource scans one source against an open session. The returned
// report is non-nil whenever listing succeeded, even if the scan then
// failed to advance the watermark.
func (c *Coordinator) RunSource(ctx context.Context, source *models.Source, session *models.DownloadSession) (*SourceReport, error) {
	span, ctx := observability.NewSpan(ctx, "scrape.RunSource")
	defer span.End()
	span.AddAttributes(
		attribute.String("source.name", source.Name),
		attribute.String("source.kind", source.Kind),
	)

	observability.LogAsyncOperationStart(ctx, "scrape.run_source", map[string]interface{}{
		"source": source.Name,
		"kind":   source.Kind,
	})
	c.publish(events.Event{
		Type:  events.EventSourceStarted,
		RunID: session.RunID,
		Payload: map[string]interface{}{
			"source": source.Name,
			"kind":   source.Kind,
		},
	})

	candidates, err := c.lister.List(ctx, source, source.PostLimit)
	if err != nil {
		span.SetError(err)
		observability.LogAsyncOperationError(ctx, "scrape.run_source", err, map[string]interface{}{
			"source": source.Name,
		})
		return nil, err
	}

	report := &SourceReport{
		Source:     source.Name,
		Candidates: len(candidates),
		Watermark:  source.Watermark,
	}

	cutoff := source.EffectiveCutoff()
	batch := make([]listing.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if !cand.Post.PostedAt.After(cutoff) {
			continue
		}
		if !source.AcceptsNsfw(cand.Post.Nsfw) {
			continue
		}
		batch = append(batch, cand)
	}

	outcomes := make([]outcome, len(batch))
	authors := make(map[string]*models.Source)

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, cand := range batch {
		post := cand.Post
		owner, topicName := c.ownership(ctx, source, cand, authors)
		post.AuthorID = owner.ID
		if source.Kind == models.SourceKindTopic {
			post.TopicID = &source.ID
		}
		post.SessionID = session.ID

		created, err := c.posts.CreateIfNew(ctx, post)
		if err != nil {
			outcomes[i] = outcome{postedAt: post.PostedAt, err: err}
			observability.LogAsyncOperationError(ctx, "scrape.create_post", err, map[string]interface{}{
				"source":    source.Name,
				"remote_id": post.RemoteID,
			})
			continue
		}
		if created {
			report.Discovered++
		}
		if !created && !post.Extractable() {
			// Already settled by an earlier run. Counts toward the
			// watermark as a success so it cannot pin the cutoff forever.
			outcomes[i] = outcome{postedAt: post.PostedAt, duplicate: true}
			continue
		}

		ownerName := owner.Name
		g.Go(func() error {
			observability.WorkersBusy.WithLabelValues(observability.PoolExtraction).Inc()
			defer observability.WorkersBusy.WithLabelValues(observability.PoolExtraction).Dec()
			outcomes[i] = c.extractPost(ctx, source, session, post, ownerName, topicName)
			return nil
		})
	}
	// Wait is the barrier: the watermark may only move once every
	// dispatched post has settled one way or the other.
	_ = g.Wait()

	for _, o := range outcomes {
		report.ContentQueued += o.queued
		report.ContentSkipped += o.skipped
		report.Comments += o.comments
		switch {
		case o.err != nil:
			report.Failed++
		case o.duplicate:
			report.Duplicates++
		default:
			report.Extracted++
		}
	}

	if advanceTo := watermarkCandidate(outcomes); !advanceTo.IsZero() {
		advanced, err := c.sources.AdvanceWatermark(ctx, source.ID, advanceTo)
		if err != nil {
			span.SetError(err)
			return report, err
		}
		report.Advanced = advanced
		if advanced {
			report.Watermark = advanceTo
		}
	}

	observability.LogAsyncOperationEnd(ctx, "scrape.run_source", map[string]interface{}{
		"source":     source.Name,
		"discovered": report.Discovered,
		"extracted":  report.Extracted,
		"failed":     report.Failed,
	})
	c.publish(events.Event{
		Type:    events.EventSourceFinished,
		RunID:   session.RunID,
		Payload: report,
	})
	return report, nil
}

// watermarkCandidate picks how far the watermark may advance: the newest
// settled timestamp strictly older than every failed one. Failed posts
// stay above the watermark so the next run lists and re-attempts them.
func watermarkCandidate(outcomes []outcome) time.Time {
	var oldestFailed time.Time
	for _, o := range outcomes {
		if o.err != nil && (oldestFailed.IsZero() || o.postedAt.Before(oldestFailed)) {
			oldestFailed = o.postedAt
		}
	}
	var advanceTo time.Time
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		if !oldestFailed.IsZero() && !o.postedAt.Before(oldestFailed) {
			continue
		}
		if o.postedAt.After(advanceTo) {
			advanceTo = o.postedAt
		}
	}
	return advanceTo
}

// ownership decides which source owns a candidate. User scans own their
// posts directly. Topic scans attribute each post to its feed author,
// auto-registering unseen authors as disabled sources so attribution
// alone never schedules anyone for scanning. The cache is per-batch.
func (c *Coordinator) ownership(ctx context.Context, source *models.Source, cand listing.Candidate, cache map[string]*models.Source) (*models.Source, string) {
	if source.Kind != models.SourceKindTopic {
		return source, ""
	}
	if cand.AuthorName == "" {
		return source, source.Name
	}
	if cached, ok := cache[cand.AuthorName]; ok {
		return cached, source.Name
	}
	owner, err := c.resolveAuthor(ctx, cand.AuthorName)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "scrape.resolve_author", err, map[string]interface{}{
			"author": cand.AuthorName,
		})
		return source, source.Name
	}
	cache[cand.AuthorName] = owner
	return owner, source.Name
}

func (c *Coordinator) resolveAuthor(ctx context.Context, name string) (*models.Source, error) {
	existing, err := c.sources.GetByName(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	author := models.NewSource(name, models.SourceKindUser, c.dateFloor)
	author.Enabled = false
	if err := c.sources.Create(ctx, author); err != nil {
		// a concurrent scan may have registered the same author
		if again, getErr := c.sources.GetByName(ctx, name); getErr == nil {
			return again, nil
		}
		return nil, err
	}
	return author, nil
}

// extractPost settles one post: resolve an extractor, turn the post into
// content rows, harvest its comments, and record the final status.
func (c *Coordinator) extractPost(ctx context.Context, source *models.Source, session *models.DownloadSession, post *models.Post, ownerName, topicName string) outcome {
	o := outcome{postedAt: post.PostedAt}

	items, err := c.extractItems(ctx, post)
	observability.RecordExtraction(post.Domain, err)
	if err != nil {
		o.err = err
		c.failPost(ctx, session, post, err)
		return o
	}

	for _, item := range items {
		if !wantsItem(source, item) {
			o.skipped++
			continue
		}
		content := &models.Content{
			Title:         item.Title,
			DownloadTitle: models.SanitizeDownloadTitle(item.Title),
			Extension:     strings.ToLower(item.Extension),
			URL:           item.URL,
			Directory:     models.BuildSaveDirectory(c.downloadDir, source.SaveStructure, ownerName, topicName),
			PostID:        post.ID,
			SourceID:      post.AuthorID,
			TopicID:       post.TopicID,
			SessionID:     session.ID,
		}
		created, err := c.contents.CreateDeduped(ctx, content, source.AvoidDuplicates)
		if err != nil {
			o.err = err
			c.failPost(ctx, session, post, err)
			return o
		}
		if created {
			o.queued++
		} else {
			o.skipped++
			observability.DedupSkipsTotal.Inc()
		}
	}

	if source.CommentPolicy != models.CommentsNone && c.commentLister != nil {
		o.comments = c.harvestComments(ctx, source, session, post, ownerName)
	}

	if err := c.posts.MarkExtracted(ctx, post.ID, session.ID); err != nil {
		o.err = err
		observability.LogAsyncOperationError(ctx, "scrape.mark_extracted", err, map[string]interface{}{
			"post_id": post.ID,
		})
		return o
	}
	c.publish(events.Event{
		Type:  events.EventPostExtracted,
		RunID: session.RunID,
		Payload: map[string]interface{}{
			"source":  source.Name,
			"post_id": post.ID,
			"title":   post.Title,
			"queued":  o.queued,
		},
	})
	return o
}

// extractItems resolves the extractor responsible for the post's URL and
// runs it. An unclaimed host comes back as a classified failure so it
// lands on the post like any other extraction error.
func (c *Coordinator) extractItems(ctx context.Context, post *models.Post) ([]extract.Item, error) {
	ex, err := c.registry.Resolve(post.URL)
	if err != nil {
		if errors.Is(err, extract.ErrNoExtractor) {
			return nil, models.NewExtractionError(models.UnsupportedHost,
				fmt.Sprintf("no extractor for host %s", post.Domain), nil)
		}
		return nil, models.NewExtractionError(models.FailedToLocateContent, "unparseable content url", err)
	}
	return ex.Extract(ctx, post)
}

func (c *Coordinator) failPost(ctx context.Context, session *models.DownloadSession, post *models.Post, cause error) {
	reason := cause.Error()
	var exErr *models.ExtractionError
	if errors.As(cause, &exErr) {
		reason = exErr.Message
	}
	if err := c.posts.MarkFailed(ctx, post.ID, session.ID, reason); err != nil {
		observability.LogAsyncOperationError(ctx, "scrape.mark_failed", err, map[string]interface{}{
			"post_id": post.ID,
		})
	}
	c.publish(events.Event{
		Type:  events.EventPostFailed,
		RunID: session.RunID,
		Payload: map[string]interface{}{
			"post_id": post.ID,
			"title":   post.Title,
			"reason":  reason,
		},
	})
}

// wantsItem applies the source's content-type policy to one item.
// Unknown extensions pass; the policy flags only gate the two media
// classes the archiver knows about.
func wantsItem(source *models.Source, item extract.Item) bool {
	switch {
	case extract.IsAnimatedExtension(item.Extension):
		return source.DownloadVideos
	case extract.IsImageExtension(item.Extension):
		return source.DownloadImages
	default:
		return true
	}
}

// harvestComments is best effort: a comment feed failure never fails the
// post it belongs to.
func (c *Coordinator) harvestComments(ctx context.Context, source *models.Source, session *models.DownloadSession, post *models.Post, ownerName string) int {
	comments, err := c.commentLister.ListComments(ctx, post)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "scrape.harvest_comments", err, map[string]interface{}{
			"post_id": post.ID,
		})
		return 0
	}
	kept := make([]*models.Comment, 0, len(comments))
	for _, comment := range comments {
		if source.CommentPolicy == models.CommentsAuthor && !strings.EqualFold(comment.Author, ownerName) {
			continue
		}
		comment.PostID = post.ID
		comment.SessionID = session.ID
		kept = append(kept, comment)
	}
	if err := c.comments.CreateBatch(ctx, kept); err != nil {
		observability.LogAsyncOperationError(ctx, "scrape.store_comments", err, map[string]interface{}{
			"post_id": post.ID,
		})
		return 0
	}
	return len(kept)
}

func (c *Coordinator) publish(event events.Event) {
	if c.publisher != nil {
		c.publisher.Publish(event)
	}
}
